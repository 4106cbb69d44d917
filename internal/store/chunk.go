package store

// maxVariableNumber is SQLite's default bind parameter limit per statement.
const maxVariableNumber = 999

// eachChunk splits items so that each chunk binds at most maxVariableNumber
// parameters at varsPerItem parameters per item, preserving order. The
// callback receives the chunk and the index of its first item.
func eachChunk[T any](items []T, varsPerItem int, f func(chunk []T, offset int) error) error {
	if varsPerItem <= 0 {
		varsPerItem = 1
	}

	chunkLen := maxVariableNumber / varsPerItem
	for offset := 0; offset < len(items); offset += chunkLen {
		end := offset + chunkLen
		if end > len(items) {
			end = len(items)
		}
		if err := f(items[offset:end], offset); err != nil {
			return err
		}
	}

	return nil
}

// repeatPlaceholders builds a "(?, ?), (?, ?)" VALUES clause body for rows
// rows of width cols.
func repeatPlaceholders(rows, cols int) string {
	if rows <= 0 || cols <= 0 {
		return ""
	}

	row := make([]byte, 0, 2*cols+2)
	row = append(row, '(')
	for i := 0; i < cols; i++ {
		if i > 0 {
			row = append(row, ", "...)
		}
		row = append(row, '?')
	}
	row = append(row, ')')

	out := make([]byte, 0, len(row)*rows+2*rows)
	for i := 0; i < rows; i++ {
		if i > 0 {
			out = append(out, ", "...)
		}
		out = append(out, row...)
	}

	return string(out)
}
