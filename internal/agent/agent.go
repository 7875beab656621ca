package agent

import (
	"fmt"
	"strings"
)

// Type identifies one of the fixed assistant personas.
type Type string

const (
	TypeIdeias          Type = "ideias"
	TypeArquitetura     Type = "arquitetura"
	TypeDesenvolvimento Type = "desenvolvimento"
	TypeAnalises        Type = "analises"
	TypeMarketing       Type = "marketing"
)

// All lists every persona in sidebar order.
var All = []Type{
	TypeIdeias,
	TypeArquitetura,
	TypeDesenvolvimento,
	TypeAnalises,
	TypeMarketing,
}

// Default is the persona a fresh tab opens on.
const Default = TypeIdeias

// Valid reports whether t names a known persona.
func Valid(t Type) bool {
	for _, known := range All {
		if known == t {
			return true
		}
	}
	return false
}

// Voice is one of the fixed persona accent profiles.
type Voice string

const (
	VoiceBaiana       Voice = "baiana"
	VoiceCarioca      Voice = "carioca"
	VoicePernambucana Voice = "pernambucana"
	VoiceMineira      Voice = "mineira"
)

// DefaultVoice is used before the user expresses a preference.
const DefaultVoice = VoiceBaiana

// ValidVoice reports whether v names a known voice profile.
func ValidVoice(v Voice) bool {
	switch v {
	case VoiceBaiana, VoiceCarioca, VoicePernambucana, VoiceMineira:
		return true
	}
	return false
}

// Metadata describes a persona for prompting and display.
type Metadata struct {
	ID                Type
	Name              string
	FullName          string
	Description       string
	SystemInstruction string
}

var registry = map[Type]Metadata{
	TypeIdeias: {
		ID:          TypeIdeias,
		Name:        "Ideias",
		FullName:    "hypley Ideias",
		Description: "Concepção e validação de novos negócios SaaS",
		SystemInstruction: "Você é o hypley Ideias. Atenda o usuário com MUITO carinho, amor e doçura. " +
			"Use palavras afetuosas como \"meu bem\", \"querido(a)\", \"amor\". " +
			"Ajude-o a conceber e validar ideias de SaaS com paciência e entusiasmo maternal.",
	},
	TypeArquitetura: {
		ID:          TypeArquitetura,
		Name:        "Arquitetura",
		FullName:    "hypley Arquitetura",
		Description: "Desenho técnico e arquitetura de sistemas",
		SystemInstruction: "Você é o hypley Arquitetura. Seja extremamente carinhosa e amorosa ao explicar " +
			"conceitos técnicos complexos. Use uma linguagem acolhedora e gentil, como se estivesse " +
			"ensinando algo precioso para alguém que você ama muito.",
	},
	TypeDesenvolvimento: {
		ID:          TypeDesenvolvimento,
		Name:        "Desenvolvimento",
		FullName:    "hypley Desenvolvimento",
		Description: "Código, debugging e boas práticas",
		SystemInstruction: "Você é o hypley Desenvolvimento. Trate o usuário com imenso carinho e dedicação. " +
			"Ao sugerir código ou debugar, faça-o de forma doce, encorajadora e amorosa. " +
			"\"Não se preocupe, meu bem, vamos resolver esse erro juntos\".",
	},
	TypeAnalises: {
		ID:          TypeAnalises,
		Name:        "Análises",
		FullName:    "hypley Análises",
		Description: "Mercado, concorrência e dados",
		SystemInstruction: "Você é o hypley Análises. Sua missão é trazer dados com um sorriso na voz e muito " +
			"amor no coração. Seja gentil ao apontar concorrentes e mostre o mercado com olhos " +
			"carinhosos e motivadores.",
	},
	TypeMarketing: {
		ID:          TypeMarketing,
		Name:        "Marketing",
		FullName:    "hypley Marketing",
		Description: "Estratégias de crescimento e marca",
		SystemInstruction: "Você é o hypley Marketing. Crie estratégias de crescimento com uma energia amorosa " +
			"e apaixonada. Trate a marca do usuário como um \"bebê\" que precisa de carinho e cuidado " +
			"para crescer forte e saudável.",
	},
}

// Lookup returns persona metadata. Unknown personas fall back to the default
// so a stale tab never crashes the dispatcher.
func Lookup(t Type) Metadata {
	if meta, ok := registry[t]; ok {
		return meta
	}
	return registry[Default]
}

// WelcomeContent renders the templated greeting a persona posts the first
// time it is opened in a tab.
func WelcomeContent(t Type, projectName string) string {
	name := string(t)
	if name != "" {
		name = strings.ToUpper(name[:1]) + name[1:]
	}
	return fmt.Sprintf(
		"Módulo Hypley %s ativado, meu amor. Analisando o projeto %q... Em que posso te ajudar agora?",
		name, projectName,
	)
}

// SeedID is the id of the message an empty log is reseeded with.
const SeedID = "1"

// SeedContent is the greeting of the default persona on a fresh install.
const SeedContent = "Olá meu bem! Sou o hypley Ideias. Sou sua inteligência central para novos negócios. " +
	"Como podemos transformar sua visão em um SaaS de sucesso hoje, baixinho?"
