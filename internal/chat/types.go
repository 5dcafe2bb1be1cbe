package chat

import "github.com/gemrelay/gemrelay/internal/media"

// Conversation roles accepted by the generation call.
const (
	RoleUser  = "user"
	RoleModel = "model"
)

// Part is one unit of turn content: text or an encoded image.
type Part struct {
	Text  string
	Image *media.Image
}

// Turn is one role-tagged unit of conversation content.
type Turn struct {
	Role  string
	Parts []Part
}

// Request is a streaming generation request.
type Request struct {
	Model        string
	SystemPrompt string
	Turns        []Turn
}

// StreamChunk is one incremental fragment of generated text.
type StreamChunk struct {
	Delta string
}
