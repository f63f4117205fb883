package domain

// Message is the canonical release graph decoded from one ERN manifest.
// It is transient: produced by the parser, validated, consumed by the
// catalog processor, never persisted as-is.
type Message struct {
	Header   Header    `json:"header"`
	Version  string    `json:"version"`
	Profile  string    `json:"profile"`
	Releases []Release `json:"releases"`
}

type Header struct {
	MessageID string `json:"messageId"`
	Sender    string `json:"sender"`
	Recipient string `json:"recipient"`
	CreatedAt string `json:"createdAt"`
}

// Release carries the territory-scoped metadata of one release plus the
// resources the manifest attaches to it.
type Release struct {
	GRid          string   `json:"grid,omitempty"`
	Reference     string   `json:"reference,omitempty"`
	Title         string   `json:"title"`
	DisplayArtist string   `json:"displayArtist"`
	LabelName     string   `json:"labelName,omitempty"`
	ReleaseDate   string   `json:"releaseDate,omitempty"`
	Genres        []string `json:"genres,omitempty"`
	PLine         string   `json:"pLine,omitempty"`
	CLine         string   `json:"cLine,omitempty"`
	CatalogNumber string   `json:"catalogNumber,omitempty"`
	ICPN          string   `json:"icpn,omitempty"`
	Territories   []string `json:"territories,omitempty"`

	SoundRecordings []SoundRecording `json:"soundRecordings"`
	Images          []Image          `json:"images,omitempty"`
}

type SoundRecording struct {
	ISRC           string `json:"isrc,omitempty"`
	Reference      string `json:"reference,omitempty"`
	Title          string `json:"title"`
	DisplayArtist  string `json:"displayArtist,omitempty"`
	Duration       string `json:"duration,omitempty"` // raw manifest value, parsed downstream
	SequenceNumber int    `json:"sequenceNumber,omitempty"`
	FilePath       string `json:"filePath,omitempty"`
}

// Image is a manifest-referenced artwork file. Type follows DDEX naming,
// e.g. FrontCoverImage.
type Image struct {
	Reference string `json:"reference,omitempty"`
	Type      string `json:"type,omitempty"`
	FilePath  string `json:"filePath,omitempty"`
}

// IsFrontCover reports whether this image is the release's cover art.
func (i Image) IsFrontCover() bool {
	return i.Type == "FrontCoverImage"
}
