package knowledge

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"golang.org/x/net/html"
)

// Ingester loads a directory of nutrition pages into the index.
type Ingester struct {
	embedder   Embedder
	index      *Index
	splitter   Splitter
	sourceBase string
	log        zerolog.Logger
}

type IngestReport struct {
	Files  int
	Chunks int
}

func NewIngester(e Embedder, idx *Index, splitter Splitter, sourceBase string, log zerolog.Logger) *Ingester {
	return &Ingester{
		embedder:   e,
		index:      idx,
		splitter:   splitter,
		sourceBase: strings.TrimRight(strings.TrimSpace(sourceBase), "/"),
		log:        log,
	}
}

// IngestDir walks dir for .html, .htm and .txt files, splits their text and
// stores the embedded chunks. Files with no text are skipped.
func (in *Ingester) IngestDir(ctx context.Context, dir string) (IngestReport, error) {
	var report IngestReport
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if ext != ".html" && ext != ".htm" && ext != ".txt" {
			return nil
		}

		text, err := readText(path, ext)
		if err != nil {
			return err
		}
		if strings.TrimSpace(text) == "" {
			return nil
		}

		pieces := in.splitter.Split(text)
		if len(pieces) == 0 {
			return nil
		}
		vectors, err := in.embedder.EmbedBatch(ctx, pieces)
		if err != nil {
			return fmt.Errorf("embed %s: %w", path, err)
		}
		source := in.locator(dir, path)
		chunks := make([]Chunk, len(pieces))
		for i, p := range pieces {
			chunks[i] = Chunk{Source: source, Content: p, Vector: vectors[i]}
		}
		if err := in.index.Add(ctx, chunks); err != nil {
			return fmt.Errorf("store %s: %w", path, err)
		}

		report.Files++
		report.Chunks += len(chunks)
		in.log.Debug().Str("source", source).Int("chunks", len(chunks)).Msg("ingested document")
		return nil
	})
	if err != nil {
		return report, fmt.Errorf("ingest %s: %w", dir, err)
	}
	in.log.Info().Int("files", report.Files).Int("chunks", report.Chunks).Msg("ingestion finished")
	return report, nil
}

// locator rewrites a file path under dir into the public source address.
func (in *Ingester) locator(dir, path string) string {
	rel, err := filepath.Rel(dir, path)
	if err != nil || in.sourceBase == "" {
		return filepath.ToSlash(path)
	}
	return in.sourceBase + "/" + filepath.ToSlash(rel)
}

func readText(path, ext string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	if ext == ".txt" {
		return string(data), nil
	}
	return HTMLText(string(data))
}

// HTMLText returns the visible text of an HTML document with script and
// style content dropped, words separated by single spaces.
func HTMLText(doc string) (string, error) {
	root, err := html.Parse(strings.NewReader(doc))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}
	var parts []string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style") {
			return
		}
		if n.Type == html.TextNode {
			if t := strings.Join(strings.Fields(n.Data), " "); t != "" {
				parts = append(parts, t)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return strings.Join(parts, " "), nil
}

// Splitter breaks text into overlapping chunks, preferring paragraph, line
// and word boundaries in that order.
type Splitter struct {
	Size    int
	Overlap int
}

var splitSeparators = []string{"\n\n", "\n", " ", ""}

func (s Splitter) Split(text string) []string {
	if s.Size <= 0 {
		return nil
	}
	return s.split(text, splitSeparators)
}

func (s Splitter) split(text string, separators []string) []string {
	sep := separators[len(separators)-1]
	var rest []string
	for i, candidate := range separators {
		if candidate == "" || strings.Contains(text, candidate) {
			sep = candidate
			rest = separators[i+1:]
			break
		}
	}

	var (
		out  []string
		good []string
	)
	for _, piece := range strings.Split(text, sep) {
		if piece == "" {
			continue
		}
		if utf8.RuneCountInString(piece) < s.Size {
			good = append(good, piece)
			continue
		}
		if len(good) > 0 {
			out = append(out, s.merge(good, sep)...)
			good = nil
		}
		if len(rest) == 0 {
			out = append(out, piece)
		} else {
			out = append(out, s.split(piece, rest)...)
		}
	}
	if len(good) > 0 {
		out = append(out, s.merge(good, sep)...)
	}
	return out
}

// merge joins small pieces into chunks of at most Size runes, carrying up to
// Overlap runes of trailing pieces into the next chunk.
func (s Splitter) merge(pieces []string, sep string) []string {
	sepLen := utf8.RuneCountInString(sep)
	var (
		out     []string
		current []string
		total   int
	)
	joinLen := func() int {
		if len(current) > 0 {
			return sepLen
		}
		return 0
	}
	for _, p := range pieces {
		n := utf8.RuneCountInString(p)
		if total+n+joinLen() > s.Size && len(current) > 0 {
			if doc := strings.TrimSpace(strings.Join(current, sep)); doc != "" {
				out = append(out, doc)
			}
			for total > s.Overlap || (total+n+joinLen() > s.Size && total > 0) {
				drop := utf8.RuneCountInString(current[0])
				if len(current) > 1 {
					drop += sepLen
				}
				total -= drop
				current = current[1:]
			}
		}
		current = append(current, p)
		total += n
		if len(current) > 1 {
			total += sepLen
		}
	}
	if doc := strings.TrimSpace(strings.Join(current, sep)); doc != "" {
		out = append(out, doc)
	}
	return out
}
