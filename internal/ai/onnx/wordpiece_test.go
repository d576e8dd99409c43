package onnx

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ids are line numbers: [PAD]=0 [UNK]=1 [CLS]=2 [SEP]=3 ...
const testVocab = `[PAD]
[UNK]
[CLS]
[SEP]
revenue
grew
to
30000
.
un
##aff
##able
cafe
,
toyota
中
国
`

func newTestTokenizer(t *testing.T) *Tokenizer {
	t.Helper()
	tok, err := NewTokenizer(strings.NewReader(testVocab))
	require.NoError(t, err)
	return tok
}

func TestTokenizer_Encode(t *testing.T) {
	tok := newTestTokenizer(t)

	ids := tok.Encode("Revenue grew to 30000.", 32)

	assert.Equal(t, []int64{2, 4, 5, 6, 7, 8, 3}, ids)
}

func TestTokenizer_WordPieceAndUnknown(t *testing.T) {
	tok := newTestTokenizer(t)

	assert.Equal(t, []int64{2, 9, 10, 11, 3}, tok.Encode("unaffable", 32))
	assert.Equal(t, []int64{2, 1, 3}, tok.Encode("unknownword", 32))
}

func TestTokenizer_StripsAccentsAndSplitsCJK(t *testing.T) {
	tok := newTestTokenizer(t)

	assert.Equal(t, []int64{2, 12, 13, 14, 3}, tok.Encode("Café, TOYOTA", 32))
	assert.Equal(t, []int64{2, 15, 16, 3}, tok.Encode("中国", 32))
}

func TestTokenizer_Truncates(t *testing.T) {
	tok := newTestTokenizer(t)

	ids := tok.Encode("revenue grew to 30000 revenue grew", 4)

	assert.Equal(t, []int64{2, 4, 5, 3}, ids)
}

func TestNewTokenizer_RequiresSpecialTokens(t *testing.T) {
	_, err := NewTokenizer(strings.NewReader("[PAD]\n[UNK]\nhello\n"))

	assert.Error(t, err)
}

func TestMeanPool(t *testing.T) {
	hidden := []float32{
		3, 0,
		0, 4,
		100, 100,
	}

	out := meanPool(hidden, []int64{1, 1, 0}, 2)

	assert.InDelta(t, 0.6, out[0], 1e-6)
	assert.InDelta(t, 0.8, out[1], 1e-6)
	assert.Equal(t, []float32{0, 0}, meanPool(hidden, []int64{0, 0, 0}, 2))
}
