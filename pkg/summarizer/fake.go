package summarizer

import "context"

// FakeGenerator is a test double for Generator, returning a fixed result
// or a fixed error.
type FakeGenerator struct {
	Result Result
	Err    error
	Calls  []Request
}

func (f *FakeGenerator) Summarize(_ context.Context, req Request) (Result, error) {
	f.Calls = append(f.Calls, req)
	if f.Err != nil {
		return Result{}, f.Err
	}
	return f.Result, nil
}
