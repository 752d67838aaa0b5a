package hub

import "strings"

// ResponseType classifies one entry of a hub function's response.
type ResponseType string

const (
	TypeText     ResponseType = "text"
	TypeImageURL ResponseType = "image_url"
	TypeVideoURL ResponseType = "video_url"
	TypeAudioURL ResponseType = "audio_url"
	TypeImage    ResponseType = "image" // base64 encoded
	TypeVideo    ResponseType = "video" // base64 encoded
	TypeAudio    ResponseType = "audio" // base64 encoded
	TypeBlob     ResponseType = "blob"  // base64 encoded file
	TypeError    ResponseType = "error"
)

// Response is one typed entry returned by execute-function.
type Response struct {
	Type        ResponseType `json:"type"`
	Content     string       `json:"content"`
	Description string       `json:"description"`
}

// Result is the flattened form of a function invocation, ready to publish as
// a single observation.
type Result struct {
	FunctionID   string
	FunctionName string
	Text         string
	ImageURLs    []string
	VideoURLs    []string
	AudioURLs    []string
	Blob         string
	Error        string
}

// Flatten aggregates typed responses into one result. Text entries are
// joined by newlines with media markers interleaved at their positions, URL
// kinds collect into per-kind lists, the first non-empty blob-like content
// wins the blob slot, and error contents concatenate into the error field.
// Unrecognized types count as text.
func Flatten(functionID string, responses []Response) Result {
	r := Result{FunctionID: functionID}
	if len(responses) > 0 {
		r.FunctionName = responses[0].Description
	}

	var texts []string
	for _, resp := range responses {
		switch resp.Type {
		case TypeError:
			if r.Error != "" {
				r.Error += "\n"
			}
			r.Error += resp.Content

		case TypeImageURL:
			r.ImageURLs = append(r.ImageURLs, resp.Content)
			texts = append(texts, marker("Image", resp.Description, "Generated image"))

		case TypeVideoURL:
			r.VideoURLs = append(r.VideoURLs, resp.Content)
			texts = append(texts, marker("Video", resp.Description, "Generated video"))

		case TypeAudioURL:
			r.AudioURLs = append(r.AudioURLs, resp.Content)
			texts = append(texts, marker("Audio", resp.Description, "Generated audio"))

		case TypeBlob:
			if r.Blob == "" {
				r.Blob = resp.Content
			}
			texts = append(texts, marker("File", resp.Description, "Generated file"))

		case TypeImage:
			if r.Blob == "" {
				r.Blob = resp.Content
			}
			texts = append(texts, marker("Image", resp.Description, "Generated image"))

		case TypeVideo:
			if r.Blob == "" {
				r.Blob = resp.Content
			}
			texts = append(texts, marker("Video", resp.Description, "Generated video"))

		case TypeAudio:
			if r.Blob == "" {
				r.Blob = resp.Content
			}
			texts = append(texts, marker("Audio", resp.Description, "Generated audio"))

		default:
			texts = append(texts, resp.Content)
		}
	}

	r.Text = strings.Join(texts, "\n")
	return r
}

func marker(kind, description, fallback string) string {
	if description == "" {
		description = fallback
	}
	return "[" + kind + ": " + description + "]"
}
