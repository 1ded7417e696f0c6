// Package retrieval turns a natural language question into ranked context.
//
// A query is first rewritten to drop boilerplate such as "please tell me" or
// "怎么评价", then embedded with the same provider used at ingestion and
// searched in the vector store. Scores are cosine similarity in [0,1]; the
// engine clamps and filters them again and sorts descending, breaking ties by
// source file and chunk ordinal.
//
// Identical queries issued concurrently share one embedding call.
package retrieval
