package story

import (
	"math/rand"
)

type Morale struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type Morales []Morale

// GetAvailableStoryMorales lists the lessons a tale can be built around.
func GetAvailableStoryMorales() Morales {
	return Morales{
		{
			Name:        "Доброта",
			Description: "Заботься о других: доброе дело может многое изменить в чьей-то жизни.",
		},
		{
			Name:        "Честность",
			Description: "Говорить правду, даже когда это трудно, значит заслужить доверие друзей.",
		},
		{
			Name:        "Упорство",
			Description: "Не сдавайся, даже если не получается с первого раза.",
		},
		{
			Name:        "Дружба",
			Description: "Вместе с друзьями можно справиться с любой трудностью.",
		},
		{
			Name:        "Смелость",
			Description: "Храбрость помогает побороть страх и сделать то, что нужно.",
		},
		{
			Name:        "Щедрость",
			Description: "Делиться с другими приятно и радостно.",
		},
		{
			Name:        "Любознательность",
			Description: "Вопросы и новые открытия помогают расти и понимать мир.",
		},
		{
			Name:        "Забота о природе",
			Description: "Береги лес, реки и животных, и природа ответит тебе тем же.",
		},
	}
}

// GetRandomMorales picks count distinct morales without touching the input.
func GetRandomMorales(count int, morales Morales) Morales {
	pool := append(Morales(nil), morales...)
	if count > len(pool) {
		count = len(pool)
	}

	picked := make(Morales, 0, count)
	for i := 0; i < count; i++ {
		randomIndex := rand.Intn(len(pool))
		picked = append(picked, pool[randomIndex])
		pool = append(pool[:randomIndex], pool[randomIndex+1:]...)
	}

	return picked
}

func FindMoraleByName(name string) (Morale, bool) {
	for _, morale := range GetAvailableStoryMorales() {
		if morale.Name == name {
			return morale, true
		}
	}
	return Morale{}, false
}
