package dupscan

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Entry kinds in the persisted format.
const (
	KindFile      = "file"
	KindDirectory = "dir"
)

// Document is the persisted form of a tree: a single root path mapped to its
// directory entry.
type Document struct {
	RootPath string
	Root     Entry
}

// MarshalJSON writes {"<root_path>": ["dir", {...}]}.
func (d Document) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]Entry{d.RootPath: d.Root})
}

// UnmarshalJSON requires exactly one top-level key holding a directory entry.
func (d *Document) UnmarshalJSON(data []byte) error {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return formatError("document must be an object: %v", err)
	}
	if len(m) != 1 {
		return formatError("document must have exactly one root, found %d", len(m))
	}
	for key, raw := range m {
		var e Entry
		if err := json.Unmarshal(raw, &e); err != nil {
			return asFormatError(err)
		}
		if e.Kind != KindDirectory {
			return formatError("root entry must be a %q, got %q", KindDirectory, e.Kind)
		}
		d.RootPath = key
		d.Root = e
	}
	return nil
}

// Entry is one node of the persisted tree: a [kind, payload] pair.
type Entry struct {
	Kind     string
	File     *FileFields
	Children map[string]Entry
}

func (e Entry) MarshalJSON() ([]byte, error) {
	switch e.Kind {
	case KindFile:
		return json.Marshal([]any{KindFile, e.File})
	case KindDirectory:
		children := e.Children
		if children == nil {
			children = map[string]Entry{}
		}
		return json.Marshal([]any{KindDirectory, children})
	default:
		return nil, fmt.Errorf("unknown entry kind %q", e.Kind)
	}
}

func (e *Entry) UnmarshalJSON(data []byte) error {
	var pair []json.RawMessage
	if err := json.Unmarshal(data, &pair); err != nil {
		return formatError("entry must be a [kind, payload] array: %v", err)
	}
	if len(pair) != 2 {
		return formatError("entry must have 2 elements, got %d", len(pair))
	}
	var kind string
	if err := json.Unmarshal(pair[0], &kind); err != nil {
		return formatError("entry kind must be a string: %v", err)
	}

	switch kind {
	case KindFile:
		var f FileFields
		if err := json.Unmarshal(pair[1], &f); err != nil {
			return asFormatError(err)
		}
		if f.FullName == "" {
			return formatError("file entry is missing fullname")
		}
		*e = Entry{Kind: KindFile, File: &f}
	case KindDirectory:
		var children map[string]Entry
		if err := json.Unmarshal(pair[1], &children); err != nil {
			return asFormatError(err)
		}
		if children == nil {
			return formatError("directory entry must hold an object")
		}
		*e = Entry{Kind: KindDirectory, Children: children}
	default:
		return formatError("unknown entry kind %q", kind)
	}
	return nil
}

// FileFields are the persisted attributes of a FileRecord.
type FileFields struct {
	FullName string    `json:"fullname"`
	Size     *int64    `json:"size"`
	Hash     *string   `json:"hash"`
	Modified Timestamp `json:"modified"`
	Accessed Timestamp `json:"accessed"`
	Created  Timestamp `json:"created"`
	Tags     []string  `json:"tags"`
}

// Timestamp is a time written as Unix seconds in exact decimal notation,
// so that nanosecond precision survives a round trip.
type Timestamp struct {
	time.Time
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	sec := t.Unix()
	nsec := int64(t.Nanosecond())
	if nsec == 0 {
		return []byte(strconv.FormatInt(sec, 10)), nil
	}

	sign := ""
	if sec < 0 {
		// Unix() floors, so -1.5s is sec=-2, nsec=5e8.
		sign = "-"
		sec = -(sec + 1)
		nsec = 1e9 - nsec
	}
	frac := strings.TrimRight(fmt.Sprintf("%09d", nsec), "0")
	return []byte(fmt.Sprintf("%s%d.%s", sign, sec, frac)), nil
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	s := string(data)
	if s == "null" {
		t.Time = time.Time{}
		return nil
	}
	parsed, err := parseUnixDecimal(s)
	if err != nil {
		return formatError("invalid timestamp %s: %v", s, err)
	}
	t.Time = parsed
	return nil
}

func parseUnixDecimal(s string) (time.Time, error) {
	if strings.ContainsAny(s, "eE") {
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return time.Time{}, err
		}
		sec := math.Floor(f)
		return time.Unix(int64(sec), int64(math.Round((f-sec)*1e9))), nil
	}

	negative := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")
	intPart, fracPart, _ := strings.Cut(s, ".")
	if intPart == "" || strings.ContainsAny(intPart, "+-") {
		return time.Time{}, errors.New("malformed number")
	}
	sec, err := strconv.ParseInt(intPart, 10, 64)
	if err != nil {
		return time.Time{}, err
	}

	var nsec int64
	if fracPart != "" {
		if len(fracPart) > 9 {
			fracPart = fracPart[:9]
		}
		if strings.Trim(fracPart, "0123456789") != "" {
			return time.Time{}, errors.New("malformed fraction")
		}
		nsec, _ = strconv.ParseInt(fracPart+strings.Repeat("0", 9-len(fracPart)), 10, 64)
	}
	if negative {
		sec, nsec = -sec, -nsec
	}
	return time.Unix(sec, nsec), nil
}

func asFormatError(err error) error {
	if errors.Is(err, ErrFormat) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrFormat, err)
}

// Serialize converts a tree into its persisted document. The tree is not modified.
func Serialize(tree *TreeNode) *Document {
	return &Document{RootPath: tree.RootPath(), Root: serializeDir(tree)}
}

func serializeDir(t *TreeNode) Entry {
	children := make(map[string]Entry, t.Len())
	for _, name := range t.names {
		switch c := t.children[name].(type) {
		case *FileRecord:
			children[name] = Entry{Kind: KindFile, File: fieldsOf(c)}
		case *TreeNode:
			children[name] = serializeDir(c)
		}
	}
	return Entry{Kind: KindDirectory, Children: children}
}

func fieldsOf(r *FileRecord) *FileFields {
	f := &FileFields{
		FullName: r.path,
		Modified: Timestamp{r.modifiedAt},
		Accessed: Timestamp{r.accessedAt},
		Created:  Timestamp{r.createdAt},
		Tags:     r.Tags(),
	}
	if r.sizeKnown {
		size := r.size
		f.Size = &size
	}
	if r.hashed {
		h := r.digest.String()
		f.Hash = &h
	}
	return f
}

// Codec converts trees to and from their persisted form. Restored records
// are bound to fsmgr so that they can be hashed, moved or deleted later.
type Codec struct {
	fsmgr FilesystemManager
}

// NewCodec creates a codec whose restored trees use fsmgr.
func NewCodec(fsmgr FilesystemManager) *Codec {
	return &Codec{fsmgr: fsmgr}
}

// Deserialize rebuilds a tree from doc without touching the filesystem.
// Cached digests are restored as-is even if the files have since changed.
func (c *Codec) Deserialize(doc *Document) (*TreeNode, error) {
	if doc == nil {
		return nil, formatError("nil document")
	}
	if !filepath.IsAbs(doc.RootPath) {
		return nil, formatError("root path %q is not absolute", doc.RootPath)
	}
	if doc.Root.Kind != KindDirectory {
		return nil, formatError("root entry must be a %q", KindDirectory)
	}
	return c.buildDir(filepath.Clean(doc.RootPath), doc.Root)
}

func (c *Codec) buildDir(path string, e Entry) (*TreeNode, error) {
	node := NewTreeNode(c.fsmgr, path)

	keys := make([]string, 0, len(e.Children))
	for k := range e.Children {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	for _, key := range keys {
		child := e.Children[key]
		name, childPath := key, filepath.Join(path, key)
		if filepath.IsAbs(key) {
			childPath = filepath.Clean(key)
			name = filepath.Base(childPath)
		}

		var n Node
		switch child.Kind {
		case KindFile:
			rec, err := c.restoreRecord(child.File)
			if err != nil {
				return nil, err
			}
			n = rec
		case KindDirectory:
			sub, err := c.buildDir(childPath, child)
			if err != nil {
				return nil, err
			}
			n = sub
		default:
			return nil, formatError("unknown entry kind %q at %s", child.Kind, childPath)
		}

		if err := node.Insert(name, n); err != nil {
			return nil, formatError("%s: %v", childPath, err)
		}
	}
	return node, nil
}

func (c *Codec) restoreRecord(f *FileFields) (*FileRecord, error) {
	if f == nil {
		return nil, formatError("file entry has no fields")
	}
	if !filepath.IsAbs(f.FullName) {
		return nil, formatError("fullname %q is not absolute", f.FullName)
	}

	r := newRecord(c.fsmgr, filepath.Clean(f.FullName))
	if f.Size != nil {
		if *f.Size < 0 {
			return nil, formatError("negative size %d for %s", *f.Size, f.FullName)
		}
		r.size = *f.Size
		r.sizeKnown = true
	}
	if f.Hash != nil {
		d, err := ParseDigest(*f.Hash)
		if err != nil {
			return nil, formatError("hash for %s: %v", f.FullName, err)
		}
		r.digest = d
		r.hashed = true
	}
	r.modifiedAt = f.Modified.Time
	r.accessedAt = f.Accessed.Time
	r.createdAt = f.Created.Time
	for _, tag := range f.Tags {
		r.tags[tag] = struct{}{}
	}
	return r, nil
}

// Encode writes the JSON document for tree to w.
func (c *Codec) Encode(w io.Writer, tree *TreeNode) error {
	if err := json.NewEncoder(w).Encode(Serialize(tree)); err != nil {
		return fmt.Errorf("encoding tree: %w", err)
	}
	return nil
}

// Decode reads a JSON document from r and rebuilds its tree. Any malformed
// input yields an error matching ErrFormat and no tree.
func (c *Codec) Decode(r io.Reader) (*TreeNode, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading document: %w", err)
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, asFormatError(err)
	}
	return c.Deserialize(&doc)
}

// Save atomically writes tree to path.
func (c *Codec) Save(tree *TreeNode, path string) error {
	var buf bytes.Buffer
	if err := c.Encode(&buf, tree); err != nil {
		return err
	}
	if err := c.fsmgr.WriteFile(path, &buf); err != nil {
		return fmt.Errorf("writing snapshot: %w", err)
	}
	return nil
}

// Load reads the tree saved at path.
func (c *Codec) Load(path string) (*TreeNode, error) {
	f, err := c.fsmgr.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening snapshot: %w", err)
	}
	defer f.Close()
	return c.Decode(f)
}
