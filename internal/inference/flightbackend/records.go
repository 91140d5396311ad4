package flightbackend

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/23skdu/longbow-kurdish/internal/inference"
)

const (
	ColInputIDs      = "input_ids"
	ColAttentionMask = "attention_mask"
	ColSequences     = "sequences"
)

var (
	tokenList = arrow.ListOf(arrow.PrimitiveTypes.Int32)

	// EncodingSchema carries one encoded sentence per row.
	EncodingSchema = arrow.NewSchema([]arrow.Field{
		{Name: ColInputIDs, Type: tokenList},
		{Name: ColAttentionMask, Type: tokenList},
	}, nil)

	// SequencesSchema carries generated sequences, best first.
	SequencesSchema = arrow.NewSchema([]arrow.Field{
		{Name: ColSequences, Type: tokenList},
	}, nil)
)

func appendRows(b array.Builder, rows [][]int32) {
	lb := b.(*array.ListBuilder)
	vb := lb.ValueBuilder().(*array.Int32Builder)
	for _, row := range rows {
		lb.Append(true)
		vb.AppendValues(row, nil)
	}
}

// readRows copies a list<int32> column into Go slices.
func readRows(col arrow.Array) ([][]int32, error) {
	list, ok := col.(*array.List)
	if !ok {
		return nil, fmt.Errorf("column type %s, want %s", col.DataType(), tokenList)
	}
	values, ok := list.ListValues().(*array.Int32)
	if !ok {
		return nil, fmt.Errorf("list values type %s, want int32", list.ListValues().DataType())
	}
	raw := values.Int32Values()
	rows := make([][]int32, list.Len())
	for i := range rows {
		start, end := list.ValueOffsets(i)
		rows[i] = make([]int32, end-start)
		copy(rows[i], raw[start:end])
	}
	return rows, nil
}

func columnIndex(schema *arrow.Schema, name string) (int, error) {
	idx := schema.FieldIndices(name)
	if len(idx) == 0 {
		return 0, fmt.Errorf("record has no %q column", name)
	}
	return idx[0], nil
}

// EncodingRecord builds an EncodingSchema record. The caller releases it.
func EncodingRecord(mem memory.Allocator, enc *inference.Encoding) arrow.Record {
	b := array.NewRecordBuilder(mem, EncodingSchema)
	defer b.Release()
	appendRows(b.Field(0), enc.InputIDs)
	mask := enc.AttentionMask
	if len(mask) != len(enc.InputIDs) {
		mask = make([][]int32, len(enc.InputIDs))
		for i, row := range enc.InputIDs {
			mask[i] = make([]int32, len(row))
			for j := range mask[i] {
				mask[i][j] = 1
			}
		}
	}
	appendRows(b.Field(1), mask)
	return b.NewRecord()
}

func EncodingFromRecord(rec arrow.Record) (*inference.Encoding, error) {
	ids, err := columnIndex(rec.Schema(), ColInputIDs)
	if err != nil {
		return nil, err
	}
	enc := &inference.Encoding{}
	if enc.InputIDs, err = readRows(rec.Column(ids)); err != nil {
		return nil, fmt.Errorf("%s: %w", ColInputIDs, err)
	}
	if mask, err := columnIndex(rec.Schema(), ColAttentionMask); err == nil {
		if enc.AttentionMask, err = readRows(rec.Column(mask)); err != nil {
			return nil, fmt.Errorf("%s: %w", ColAttentionMask, err)
		}
	}
	return enc, nil
}

// SequencesRecord builds a SequencesSchema record. The caller releases it.
func SequencesRecord(mem memory.Allocator, seqs [][]int32) arrow.Record {
	b := array.NewRecordBuilder(mem, SequencesSchema)
	defer b.Release()
	appendRows(b.Field(0), seqs)
	return b.NewRecord()
}

func SequencesFromRecord(rec arrow.Record) ([][]int32, error) {
	idx, err := columnIndex(rec.Schema(), ColSequences)
	if err != nil {
		return nil, err
	}
	return readRows(rec.Column(idx))
}
