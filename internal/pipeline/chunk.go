package pipeline

// Document is the cached, extracted form of one task file as seen by the
// research loop. Exactly one of Text or Pages is populated.
type Document struct {
	Name  string
	Text  string
	Pages [][]byte
}

// Chunk is a contiguous slice of a document sized for one model call.
type Chunk struct {
	DocumentName string
	Index        int
	Total        int
	Text         string
	Pages        [][]byte
}

// Empty reports whether the document carries no content at all.
func (d *Document) Empty() bool {
	return d.Text == "" && len(d.Pages) == 0
}

// Split divides the document into exactly n chunks. Text is split by rune
// count into near-equal ranges; page sets are split into contiguous groups so
// page order survives chunking. n is clamped to at least 1, and a page set
// smaller than n yields fewer, single-page chunks.
func (d *Document) Split(n int) []Chunk {
	if n < 1 {
		n = 1
	}

	if len(d.Pages) > 0 {
		return d.splitPages(n)
	}
	return d.splitText(n)
}

func (d *Document) splitText(n int) []Chunk {
	runes := []rune(d.Text)
	chunks := make([]Chunk, 0, n)

	size := len(runes) / n
	rem := len(runes) % n

	start := 0
	for i := 0; i < n; i++ {
		end := start + size
		if i < rem {
			end++
		}
		chunks = append(chunks, Chunk{
			DocumentName: d.Name,
			Index:        i,
			Total:        n,
			Text:         string(runes[start:end]),
		})
		start = end
	}
	return chunks
}

func (d *Document) splitPages(n int) []Chunk {
	if n > len(d.Pages) {
		n = len(d.Pages)
	}

	chunks := make([]Chunk, 0, n)
	size := len(d.Pages) / n
	rem := len(d.Pages) % n

	start := 0
	for i := 0; i < n; i++ {
		end := start + size
		if i < rem {
			end++
		}
		chunks = append(chunks, Chunk{
			DocumentName: d.Name,
			Index:        i,
			Total:        n,
			Pages:        d.Pages[start:end],
		})
		start = end
	}

	// Renumber when page count forced fewer chunks than requested.
	for i := range chunks {
		chunks[i].Total = len(chunks)
	}
	return chunks
}
