package lib

// TokenSource yields the web identity token presented to the token exchange.
type TokenSource interface {
	Token() (*Token, error)
}

// StaticTokenSource serves a token supplied once at construction.
type StaticTokenSource struct {
	token string
}

func NewStaticTokenSource(token string) *StaticTokenSource {
	return &StaticTokenSource{token: token}
}

func (s *StaticTokenSource) Token() (*Token, error) {
	return &Token{Value: s.token}, nil
}

// FileTokenSource reads the token from the first line of a file. The file is
// re-read on every call, so a rotated token file (e.g. a projected service
// account token) is picked up on the next session refresh.
type FileTokenSource struct {
	path string
}

func NewFileTokenSource(path string) *FileTokenSource {
	return &FileTokenSource{path: path}
}

func (s *FileTokenSource) Token() (*Token, error) {
	value, err := firstLine(s.path, "web identity token")
	if err != nil {
		return nil, err
	}
	return &Token{Value: value}, nil
}
