package parser

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	erndomain "github.com/daddykev/stardust-dsp/internal/ern/domain"
	"go.uber.org/zap"
)

const (
	DefaultVersion = "ERN-3.8.2"
	DefaultProfile = "AudioAlbumMusicOnly"
)

var ErrEmptyDocument = errors.New("ern_empty_document")

// schemaVersions maps the MessageSchemaVersionId token to the version label
// recorded on the delivery.
var schemaVersions = map[string]string{
	"ern/43":  "ERN-4.3",
	"ern/42":  "ERN-4.2",
	"ern/41":  "ERN-4.1",
	"ern/382": "ERN-3.8.2",
	"ern/38":  "ERN-3.8.2",
	"ern/37":  "ERN-3.7",
}

type Parser struct {
	log *zap.Logger
}

func New(log *zap.Logger) *Parser {
	return &Parser{log: log.Named("ern.parser")}
}

// Parse decodes one ERN manifest into the canonical release graph. The
// decoder strips namespace prefixes so version-specific prefixing (ern:,
// ernm:) never leaks into lookups.
func (p *Parser) Parse(data []byte) (*erndomain.Message, error) {
	root, err := decodeTree(data)
	if err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}

	msg := &erndomain.Message{
		Version: detectVersion(root),
		Profile: detectProfile(root),
		Header:  parseHeader(root),
	}

	recordings, images := parseResources(root)
	msg.Releases = parseReleases(root, recordings, images)

	p.log.Debug("manifest parsed",
		zap.String("version", msg.Version),
		zap.String("profile", msg.Profile),
		zap.String("message_id", msg.Header.MessageID),
		zap.Int("releases", len(msg.Releases)),
	)
	return msg, nil
}

// xmlNode is a loosely typed element tree. Element and attribute names keep
// only their local part.
type xmlNode struct {
	name     string
	attrs    map[string]string
	text     string
	children []*xmlNode
}

func decodeTree(data []byte) (*xmlNode, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	var root *xmlNode
	var stack []*xmlNode

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			n := &xmlNode{name: t.Name.Local, attrs: make(map[string]string, len(t.Attr))}
			for _, a := range t.Attr {
				n.attrs[a.Name.Local] = a.Value
			}
			if len(stack) == 0 {
				if root != nil {
					return nil, errors.New("multiple root elements")
				}
				root = n
			} else {
				parent := stack[len(stack)-1]
				parent.children = append(parent.children, n)
			}
			stack = append(stack, n)
		case xml.CharData:
			if len(stack) > 0 {
				stack[len(stack)-1].text += string(t)
			}
		case xml.EndElement:
			if len(stack) == 0 {
				return nil, errors.New("unbalanced end element")
			}
			stack = stack[:len(stack)-1]
		}
	}
	if len(stack) != 0 {
		return nil, errors.New("unterminated element")
	}
	if root == nil {
		return nil, ErrEmptyDocument
	}
	return root, nil
}

// child returns the first direct child with the given name.
func (n *xmlNode) child(name string) *xmlNode {
	for _, c := range n.children {
		if c.name == name {
			return c
		}
	}
	return nil
}

// first returns the first descendant with the given name, depth first.
func (n *xmlNode) first(name string) *xmlNode {
	for _, c := range n.children {
		if c.name == name {
			return c
		}
		if found := c.first(name); found != nil {
			return found
		}
	}
	return nil
}

// firstText returns the trimmed text of the first descendant matching any of
// the names, in the order given.
func (n *xmlNode) firstText(names ...string) string {
	for _, name := range names {
		if found := n.first(name); found != nil {
			if s := found.trimmedText(); s != "" {
				return s
			}
		}
	}
	return ""
}

// collectTexts gathers the trimmed text of every descendant with the given
// name, deduplicated in document order.
func (n *xmlNode) collectTexts(name string) []string {
	var out []string
	seen := map[string]bool{}
	n.walk(func(c *xmlNode) {
		if c.name != name {
			return
		}
		s := c.trimmedText()
		if s == "" || seen[s] {
			return
		}
		seen[s] = true
		out = append(out, s)
	})
	return out
}

func (n *xmlNode) walk(fn func(*xmlNode)) {
	for _, c := range n.children {
		fn(c)
		c.walk(fn)
	}
}

func (n *xmlNode) trimmedText() string {
	return strings.TrimSpace(n.text)
}

func detectVersion(root *xmlNode) string {
	// Explicit message standard wins.
	if v := root.firstText("MessageStandard"); v != "" {
		return v
	}
	if schema := root.attrs["MessageSchemaVersionId"]; schema != "" {
		if v, ok := schemaVersions[strings.ToLower(schema)]; ok {
			return v
		}
		return schema
	}
	// The ern namespace declared on a known root element carries the schema
	// token; 4.x documents always ship it.
	if root.name == "NewReleaseMessage" || root.name == "PurgeReleaseMessage" {
		if v := versionFromNamespace(root); v != "" {
			return v
		}
	}
	return DefaultVersion
}

func versionFromNamespace(root *xmlNode) string {
	const marker = "ddex.net/xml/ern/"
	keys := make([]string, 0, len(root.attrs))
	for k := range root.attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v := root.attrs[k]
		i := strings.Index(v, marker)
		if i < 0 {
			continue
		}
		token := "ern/" + strings.Trim(v[i+len(marker):], "/")
		if mapped, ok := schemaVersions[strings.ToLower(token)]; ok {
			return mapped
		}
	}
	return ""
}

func detectProfile(root *xmlNode) string {
	if p := root.attrs["ReleaseProfileVersionId"]; p != "" {
		return p
	}
	if p := root.firstText("ReleaseProfileVersionId"); p != "" {
		return p
	}
	return DefaultProfile
}

func parseHeader(root *xmlNode) erndomain.Header {
	h := erndomain.Header{}
	header := root.child("MessageHeader")
	if header == nil {
		return h
	}
	h.MessageID = header.firstText("MessageId")
	h.CreatedAt = header.firstText("MessageCreatedDateTime")
	if sender := header.child("MessageSender"); sender != nil {
		h.Sender = sender.firstText("FullName", "PartyName", "PartyId")
	}
	if recipient := header.child("MessageRecipient"); recipient != nil {
		h.Recipient = recipient.firstText("FullName", "PartyName", "PartyId")
	}
	return h
}

func parseResources(root *xmlNode) (map[string]erndomain.SoundRecording, map[string]erndomain.Image) {
	recordings := map[string]erndomain.SoundRecording{}
	images := map[string]erndomain.Image{}

	resources := root.child("ResourceList")
	if resources == nil {
		return recordings, images
	}

	seq := 0
	for _, c := range resources.children {
		switch c.name {
		case "SoundRecording":
			seq++
			rec := erndomain.SoundRecording{
				Reference:      c.firstText("ResourceReference"),
				ISRC:           c.firstText("ISRC"),
				Title:          c.firstText("TitleText", "DisplayTitleText", "ReferenceTitle"),
				DisplayArtist:  parseDisplayArtist(c),
				Duration:       c.firstText("Duration"),
				SequenceNumber: seq,
				FilePath:       parseFilePath(c),
			}
			key := rec.Reference
			if key == "" {
				key = fmt.Sprintf("A%d", seq)
				rec.Reference = key
			}
			recordings[key] = rec
		case "Image":
			img := erndomain.Image{
				Reference: c.firstText("ResourceReference"),
				Type:      c.firstText("Type", "ImageType"),
				FilePath:  parseFilePath(c),
			}
			key := img.Reference
			if key == "" {
				key = fmt.Sprintf("I%d", len(images)+1)
				img.Reference = key
			}
			images[key] = img
		}
	}
	return recordings, images
}

func parseReleases(root *xmlNode, recordings map[string]erndomain.SoundRecording, images map[string]erndomain.Image) []erndomain.Release {
	list := root.child("ReleaseList")
	if list == nil {
		return nil
	}

	var out []erndomain.Release
	for _, c := range list.children {
		// TrackRelease nodes (4.x) are per-track shadows of the main release.
		if c.name != "Release" && c.name != "MainRelease" {
			continue
		}
		r := erndomain.Release{
			GRid:          c.firstText("GRid"),
			ICPN:          c.firstText("ICPN"),
			Reference:     c.firstText("ReleaseReference"),
			Title:         c.firstText("TitleText", "DisplayTitleText", "ReferenceTitle"),
			DisplayArtist: parseDisplayArtist(c),
			LabelName:     c.firstText("LabelName"),
			ReleaseDate:   c.firstText("ReleaseDate", "OriginalReleaseDate", "GlobalOriginalReleaseDate"),
			Genres:        c.collectTexts("GenreText"),
			CatalogNumber: c.firstText("CatalogNumber"),
			Territories:   c.collectTexts("TerritoryCode"),
		}
		if pline := c.first("PLine"); pline != nil {
			r.PLine = pline.firstText("PLineText")
		}
		if cline := c.first("CLine"); cline != nil {
			r.CLine = cline.firstText("CLineText")
		}

		refs := releaseResourceRefs(c)
		r.SoundRecordings, r.Images = attachResources(refs, recordings, images)
		out = append(out, r)
	}
	return out
}

// releaseResourceRefs lists the resource references the release claims. An
// empty list means the release claims everything in the message.
func releaseResourceRefs(release *xmlNode) []string {
	var refs []string
	if refList := release.first("ReleaseResourceReferenceList"); refList != nil {
		refs = refList.collectTexts("ReleaseResourceReference")
	}
	if len(refs) == 0 {
		refs = release.collectTexts("ReleaseResourceReference")
	}
	return refs
}

func attachResources(refs []string, recordings map[string]erndomain.SoundRecording, images map[string]erndomain.Image) ([]erndomain.SoundRecording, []erndomain.Image) {
	var recs []erndomain.SoundRecording
	var imgs []erndomain.Image

	if len(refs) == 0 {
		for _, rec := range sortedRecordings(recordings) {
			recs = append(recs, rec)
		}
		for _, img := range images {
			imgs = append(imgs, img)
		}
		return recs, imgs
	}

	for _, ref := range refs {
		if rec, ok := recordings[ref]; ok {
			recs = append(recs, rec)
		}
		if img, ok := images[ref]; ok {
			imgs = append(imgs, img)
		}
	}
	return recs, imgs
}

func sortedRecordings(recordings map[string]erndomain.SoundRecording) []erndomain.SoundRecording {
	out := make([]erndomain.SoundRecording, 0, len(recordings))
	for _, rec := range recordings {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SequenceNumber < out[j].SequenceNumber })
	return out
}

func parseDisplayArtist(n *xmlNode) string {
	if artist := n.first("DisplayArtist"); artist != nil {
		if s := artist.firstText("FullName", "PartyName"); s != "" {
			return s
		}
		if s := artist.trimmedText(); s != "" {
			return s
		}
	}
	return n.firstText("DisplayArtistName")
}

func parseFilePath(n *xmlNode) string {
	file := n.first("File")
	if file == nil {
		return ""
	}
	if uri := file.firstText("URI"); uri != "" {
		return uri
	}
	path := file.firstText("FilePath")
	name := file.firstText("FileName")
	if path != "" && name != "" {
		return strings.TrimSuffix(path, "/") + "/" + name
	}
	if name != "" {
		return name
	}
	return path
}
