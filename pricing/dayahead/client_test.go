package dayahead

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleDoc = `<?xml version="1.0" encoding="UTF-8"?>
<Publication_MarketDocument>
  <mRID>sample</mRID>
  <createdDateTime>2026-01-01T00:00Z</createdDateTime>
  <period.timeInterval>
    <start>2026-01-01T00:00Z</start>
    <end>2026-01-02T00:00Z</end>
  </period.timeInterval>
  <TimeSeries>
    <mRID>1</mRID>
    <Period>
      <timeInterval>
        <start>2026-01-01T00:00Z</start>
        <end>2026-01-01T01:00Z</end>
      </timeInterval>
      <resolution>PT15M</resolution>
      <Point><position>1</position><price.amount>100.5</price.amount></Point>
      <Point><position>2</position><price.amount>95.0</price.amount></Point>
      <Point><position>3</position><price.amount>90.0</price.amount></Point>
      <Point><position>4</position><price.amount>110.0</price.amount></Point>
    </Period>
  </TimeSeries>
</Publication_MarketDocument>`

func TestDecodeAndToBlocks(t *testing.T) {
	doc, err := decode(strings.NewReader(sampleDoc))
	require.NoError(t, err)
	require.Len(t, doc.Series, 1)

	blocks := toBlocks(doc)
	require.Len(t, blocks, 4)
	assert.InDelta(t, 100.5, blocks[0].SpotEURMWh, 1e-9)
	assert.Equal(t, blocks[0].End, blocks[1].Start)
	assert.Equal(t, blocks[3].Duration().Minutes(), 15.0)
}

func TestParseISO8601Duration(t *testing.T) {
	d, err := parseISO8601Duration("PT15M")
	require.NoError(t, err)
	assert.Equal(t, "15m0s", d.String())

	d, err = parseISO8601Duration("PT1H30M")
	require.NoError(t, err)
	assert.Equal(t, "1h30m0s", d.String())

	_, err = parseISO8601Duration("15M")
	assert.Error(t, err)
}
