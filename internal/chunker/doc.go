// Package chunker splits source files into overlapping line windows and
// turns them into indexable chunks.
//
// # Windowing
//
// A file is cut at line 0, at every definition line reported by the
// parser's Detector, and at a fixed stride of MaxLines-Overlap lines. Each
// boundary opens a window of at most MaxLines lines. Windows that are blank
// after trimming are dropped; ChunkFile also drops windows without tokens.
//
//	c := chunker.New()
//	for _, ch := range c.ChunkFile("internal/auth/token.go", text, mtime) {
//	    fmt.Println(ch.Header(), ch.TokenCount)
//	}
//
// # Tokens
//
// Tokenize lowercases identifier-like words of two or more characters.
// EstimateTokens approximates LLM tokens as one per four characters.
//
// # Source decoding
//
// ReadSource returns valid UTF-8 untouched. Other bytes are decoded with
// byte order mark detection and U+FFFD replacement.
package chunker
