package onnx

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

const (
	tokenCLS = "[CLS]"
	tokenSEP = "[SEP]"
	tokenUNK = "[UNK]"
	tokenPAD = "[PAD]"

	maxWordChars = 100
)

// Tokenizer is an uncased BERT WordPiece tokenizer.
type Tokenizer struct {
	vocab map[string]int64
	unkID int64
	clsID int64
	sepID int64
	padID int64
}

func LoadTokenizer(path string) (*Tokenizer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open vocab failed: %w", err)
	}
	defer f.Close()
	return NewTokenizer(f)
}

// NewTokenizer reads a vocab.txt with one token per line; the line number is the id.
func NewTokenizer(r io.Reader) (*Tokenizer, error) {
	vocab := make(map[string]int64)
	sc := bufio.NewScanner(r)
	var id int64
	for sc.Scan() {
		token := strings.TrimRight(sc.Text(), "\r\n")
		if _, dup := vocab[token]; !dup {
			vocab[token] = id
		}
		id++
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read vocab failed: %w", err)
	}

	t := &Tokenizer{vocab: vocab}
	for name, dst := range map[string]*int64{
		tokenUNK: &t.unkID,
		tokenCLS: &t.clsID,
		tokenSEP: &t.sepID,
		tokenPAD: &t.padID,
	} {
		v, ok := vocab[name]
		if !ok {
			return nil, fmt.Errorf("vocab is missing %s", name)
		}
		*dst = v
	}
	return t, nil
}

// Encode returns [CLS] tokens [SEP] ids, truncated to maxLen.
func (t *Tokenizer) Encode(text string, maxLen int) []int64 {
	ids := []int64{t.clsID}
	for _, word := range basicTokenize(text) {
		ids = append(ids, t.wordPiece(word)...)
	}
	if maxLen >= 2 && len(ids) > maxLen-1 {
		ids = ids[:maxLen-1]
	}
	return append(ids, t.sepID)
}

func (t *Tokenizer) wordPiece(word string) []int64 {
	chars := []rune(word)
	if len(chars) > maxWordChars {
		return []int64{t.unkID}
	}

	var ids []int64
	for start := 0; start < len(chars); {
		end := len(chars)
		var found int64 = -1
		for ; end > start; end-- {
			piece := string(chars[start:end])
			if start > 0 {
				piece = "##" + piece
			}
			if id, ok := t.vocab[piece]; ok {
				found = id
				break
			}
		}
		if found < 0 {
			return []int64{t.unkID}
		}
		ids = append(ids, found)
		start = end
	}
	return ids
}

// basicTokenize lowercases, strips accents and splits on whitespace,
// punctuation and CJK ideographs.
func basicTokenize(text string) []string {
	text = strings.ToLower(norm.NFD.String(text))

	var words []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			words = append(words, cur.String())
			cur.Reset()
		}
	}
	for _, r := range text {
		switch {
		case r == 0 || r == unicode.ReplacementChar || unicode.IsControl(r) && !unicode.IsSpace(r):
			continue
		case unicode.Is(unicode.Mn, r):
			continue
		case unicode.IsSpace(r):
			flush()
		case isPunctuation(r) || isCJK(r):
			flush()
			words = append(words, string(r))
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return words
}

func isPunctuation(r rune) bool {
	if (r >= 33 && r <= 47) || (r >= 58 && r <= 64) || (r >= 91 && r <= 96) || (r >= 123 && r <= 126) {
		return true
	}
	return unicode.IsPunct(r)
}

func isCJK(r rune) bool {
	return (r >= 0x4E00 && r <= 0x9FFF) ||
		(r >= 0x3400 && r <= 0x4DBF) ||
		(r >= 0x20000 && r <= 0x2A6DF) ||
		(r >= 0x2A700 && r <= 0x2B73F) ||
		(r >= 0x2B740 && r <= 0x2B81F) ||
		(r >= 0x2B820 && r <= 0x2CEAF) ||
		(r >= 0xF900 && r <= 0xFAFF) ||
		(r >= 0x2F800 && r <= 0x2FA1F)
}
