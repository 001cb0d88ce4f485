package database

// maxInParams keeps IN lists and multi-row inserts below sqlite's variable limit
const maxInParams = 500

func chunkStrings(ids []string, size int) [][]string {
	var chunks [][]string
	for size < len(ids) {
		ids, chunks = ids[size:], append(chunks, ids[:size])
	}
	if len(ids) > 0 {
		chunks = append(chunks, ids)
	}
	return chunks
}
