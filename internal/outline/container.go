package outline

import (
	"archive/zip"
	"bytes"
	"encoding/hex"
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
)

// MalformedContainerError signals a container that cannot be decoded at all:
// missing content part or missing root structural nodes. Anything less severe
// degrades to skipped subtrees instead.
type MalformedContainerError struct {
	Reason string
}

func (e *MalformedContainerError) Error() string {
	return fmt.Sprintf("malformed outline container: %s", e.Reason)
}

const (
	contentNamespace  = "urn:xmind:xmap:xmlns:content:2.0"
	styleNamespace    = "urn:xmind:xmap:xmlns:style:2.0"
	manifestNamespace = "urn:xmind:xmap:xmlns:manifest:1.0"
	foNamespace       = "http://www.w3.org/1999/XSL/Format"

	structureLogicRight = "org.xmind.ui.logic.right"

	contentFile  = "content.xml"
	stylesFile   = "styles.xml"
	manifestFile = "META-INF/manifest.xml"
)

// Topic is one node of the mind-map tree. Marker annotations live either in
// marker-refs child elements or, for older editors, a comma-separated markers
// attribute.
type Topic struct {
	ID             string      `xml:"id,attr,omitempty"`
	StructureClass string      `xml:"structure-class,attr,omitempty"`
	Markers        string      `xml:"markers,attr,omitempty"`
	Title          string      `xml:"title"`
	MarkerRefs     *MarkerRefs `xml:"marker-refs"`
	Children       *Children   `xml:"children"`
}

// MarkerRefs wraps the marker-ref list of a topic
type MarkerRefs struct {
	Refs []MarkerRef `xml:"marker-ref"`
}

// MarkerRef is one structured annotation (priority-N, wrong flags)
type MarkerRef struct {
	MarkerID string `xml:"marker-id,attr"`
}

// Children wraps the attached topics of a node
type Children struct {
	Topics TopicsGroup `xml:"topics"`
}

// TopicsGroup is the attached-topic container
type TopicsGroup struct {
	Type   string   `xml:"type,attr"`
	Topics []*Topic `xml:"topic"`
}

type xmapContent struct {
	XMLName xml.Name `xml:"xmap-content"`
	XMLNS   string   `xml:"xmlns,attr"`
	XMLNSFo string   `xml:"xmlns:fo,attr"`
	Version string   `xml:"version,attr"`
	Sheets  []*sheet `xml:"sheet"`
}

type sheet struct {
	ID    string `xml:"id,attr,omitempty"`
	Topic *Topic `xml:"topic"`
}

type xmapStyles struct {
	XMLName xml.Name `xml:"xmap-styles"`
	XMLNS   string   `xml:"xmlns,attr"`
	Version string   `xml:"version,attr"`
}

type manifest struct {
	XMLName xml.Name    `xml:"manifest"`
	XMLNS   string      `xml:"xmlns,attr"`
	Entries []fileEntry `xml:"file-entry"`
}

type fileEntry struct {
	FullPath  string `xml:"full-path,attr"`
	MediaType string `xml:"media-type,attr"`
}

// newTopicID returns the 26-hex-char node id the target editor expects
func newTopicID() string {
	id := uuid.New()
	return hex.EncodeToString(id[:])[:26]
}

// NewTopic creates a titled topic with a fresh node id
func NewTopic(title string) *Topic {
	return &Topic{ID: newTopicID(), Title: title}
}

// AttachChild appends child under t's attached-topics container, creating the
// container on first use
func (t *Topic) AttachChild(child *Topic) {
	if t.Children == nil {
		t.Children = &Children{Topics: TopicsGroup{Type: "attached"}}
	}
	t.Children.Topics.Topics = append(t.Children.Topics.Topics, child)
}

// ChildTopics returns the attached children of t, nil-safe
func (t *Topic) ChildTopics() []*Topic {
	if t == nil || t.Children == nil {
		return nil
	}
	return t.Children.Topics.Topics
}

// FindChild returns the first attached child whose title matches, or nil
func (t *Topic) FindChild(title string) *Topic {
	for _, child := range t.ChildTopics() {
		if strings.TrimSpace(child.Title) == title {
			return child
		}
	}
	return nil
}

// AddMarker appends a marker-ref annotation to the topic
func (t *Topic) AddMarker(markerID string) {
	if t.MarkerRefs == nil {
		t.MarkerRefs = &MarkerRefs{}
	}
	t.MarkerRefs.Refs = append(t.MarkerRefs.Refs, MarkerRef{MarkerID: markerID})
}

// MarkerIDs collects all marker annotations of the topic, from both the
// marker-refs element and the legacy comma-separated markers attribute
func (t *Topic) MarkerIDs() []string {
	var ids []string
	if t.MarkerRefs != nil {
		for _, ref := range t.MarkerRefs.Refs {
			if ref.MarkerID != "" {
				ids = append(ids, ref.MarkerID)
			}
		}
	}
	for _, raw := range strings.Split(t.Markers, ",") {
		if id := strings.TrimSpace(raw); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

// WriteContainer serializes the tree rooted at root into a container archive:
// content, styles and a manifest listing the two.
func WriteContainer(root *Topic) ([]byte, error) {
	content := &xmapContent{
		XMLNS:   contentNamespace,
		XMLNSFo: foNamespace,
		Version: "2.0",
		Sheets:  []*sheet{{ID: newTopicID(), Topic: root}},
	}
	if root.StructureClass == "" {
		root.StructureClass = structureLogicRight
	}

	contentXML, err := marshalXML(content)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal content: %w", err)
	}
	stylesXML, err := marshalXML(&xmapStyles{XMLNS: styleNamespace, Version: "2.0"})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal styles: %w", err)
	}
	manifestXML, err := marshalXML(&manifest{
		XMLNS: manifestNamespace,
		Entries: []fileEntry{
			{FullPath: "content.xml", MediaType: "text/xml"},
			{FullPath: "styles.xml", MediaType: "text/xml"},
			{FullPath: "META-INF/", MediaType: ""},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal manifest: %w", err)
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	files := []struct {
		name string
		data []byte
	}{
		{contentFile, contentXML},
		{manifestFile, manifestXML},
		{stylesFile, stylesXML},
	}
	for _, f := range files {
		w, err := zw.Create(f.name)
		if err != nil {
			return nil, fmt.Errorf("failed to create archive entry %s: %w", f.name, err)
		}
		if _, err := w.Write(f.data); err != nil {
			return nil, fmt.Errorf("failed to write archive entry %s: %w", f.name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize archive: %w", err)
	}
	return buf.Bytes(), nil
}

func marshalXML(v interface{}) ([]byte, error) {
	body, err := xml.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), body...), nil
}

// ReadContainer opens a container archive and returns the root topic of its
// first sheet
func ReadContainer(data []byte) (*Topic, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, &MalformedContainerError{Reason: "not a valid archive"}
	}

	var contentData []byte
	for _, f := range zr.File {
		if f.Name != contentFile {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, &MalformedContainerError{Reason: "content part unreadable"}
		}
		contentData, err = io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, &MalformedContainerError{Reason: "content part unreadable"}
		}
		break
	}
	if contentData == nil {
		return nil, &MalformedContainerError{Reason: "missing content part"}
	}

	var content xmapContent
	if err := xml.Unmarshal(contentData, &content); err != nil {
		return nil, &MalformedContainerError{Reason: "content part is not valid markup"}
	}
	if len(content.Sheets) == 0 {
		return nil, &MalformedContainerError{Reason: "missing sheet node"}
	}
	root := content.Sheets[0].Topic
	if root == nil {
		return nil, &MalformedContainerError{Reason: "missing root topic node"}
	}
	return root, nil
}
