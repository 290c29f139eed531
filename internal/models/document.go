package models

// Document is the shared text buffer a session collaborates on. It is
// owned exclusively by its session and mutated only by the sequential
// application of transformed operations.
type Document struct {
	Content  string `json:"content"`
	Filename string `json:"filename"`
	Language string `json:"language"`
}

// DefaultDocument returns the seed document for a session created
// without caller-provided content.
func DefaultDocument() Document {
	return Document{
		Content:  "",
		Filename: "untitled.js",
		Language: "javascript",
	}
}

// Merge overlays the non-zero fields of other on top of d. Used when a
// session creator supplies a partial document over the defaults.
func (d Document) Merge(other Document) Document {
	if other.Content != "" {
		d.Content = other.Content
	}
	if other.Filename != "" {
		d.Filename = other.Filename
	}
	if other.Language != "" {
		d.Language = other.Language
	}
	return d
}
