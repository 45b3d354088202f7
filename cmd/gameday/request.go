package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/nghyane/gameday-net/internal/json"
	"github.com/nghyane/gameday-net/pkg/gameday"
	"github.com/tidwall/pretty"
)

type requestFlags struct {
	method    string
	path      string
	data      string
	queries   []string
	headers   []string
	anonymous bool
}

// buildDescriptor turns command-line flags into a request descriptor.
func buildDescriptor(f requestFlags) (gameday.Descriptor, error) {
	var d gameday.Descriptor
	switch strings.ToUpper(f.method) {
	case http.MethodGet:
		d = gameday.Get(f.path)
	case http.MethodPost:
		d = gameday.Post(f.path)
	case http.MethodPut:
		d = gameday.Put(f.path)
	case http.MethodPatch:
		d = gameday.Patch(f.path)
	case http.MethodDelete:
		d = gameday.Delete(f.path)
	default:
		return d, fmt.Errorf("unsupported method %q", f.method)
	}
	for _, q := range f.queries {
		name, value, _ := strings.Cut(q, "=")
		d = d.WithQuery(name, value)
	}
	for _, h := range f.headers {
		name, value, ok := strings.Cut(h, ":")
		if !ok {
			return d, fmt.Errorf("header %q must look like 'Name: value'", h)
		}
		d = d.WithHeader(strings.TrimSpace(name), strings.TrimSpace(value))
	}
	if f.data != "" {
		if !json.Valid([]byte(f.data)) {
			return d, fmt.Errorf("--data is not valid JSON")
		}
		d = d.WithBody(json.RawMessage(f.data))
	}
	if !f.anonymous {
		d = d.Authenticated()
	}
	return d, nil
}

func doRequest(ctx context.Context, client *gameday.Client, f requestFlags) error {
	d, err := buildDescriptor(f)
	if err != nil {
		return err
	}
	resp, err := client.Send(ctx, d)
	if err != nil {
		var e *gameday.Error
		if errors.As(err, &e) {
			return fmt.Errorf("%s %s failed: %s (%v)", d.Method, d.Path, e.Kind.Message(), err)
		}
		return err
	}
	fmt.Fprintf(os.Stderr, "%d after %d attempt(s), request %s\n", resp.StatusCode, resp.Attempts, resp.RequestID)
	body := resp.Body
	if json.Valid(body) {
		body = pretty.Color(pretty.Pretty(body), nil)
	}
	_, err = os.Stdout.Write(body)
	return err
}
