package retrieval

// FilterUsedDocuments removes documents whose ID has already been surfaced
// in this conversation. Pure and order-preserving: the relative rank from
// the similarity search is kept.
func FilterUsedDocuments(docs []Document, usedIDs map[string]struct{}) []Document {
	filtered := make([]Document, 0, len(docs))
	for _, doc := range docs {
		if _, used := usedIDs[doc.ID]; !used {
			filtered = append(filtered, doc)
		}
	}
	return filtered
}
