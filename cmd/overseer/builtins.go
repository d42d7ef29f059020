package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"overseer/internal/api"
	"overseer/internal/capability"
)

const maxFetchBody = 64 * 1024

// registerBuiltins installs the built-in capabilities. Path arguments are
// validated by the router before these run.
func registerBuiltins(reg *capability.Registry) error {
	builtins := []capability.Capability{
		&capability.Func{
			CapName:      "file_read",
			ValidateFunc: requireString("path"),
			InvokeFunc: func(ctx context.Context, args capability.Args) (*capability.Result, error) {
				path, _ := args["path"].(string)
				data, err := os.ReadFile(path)
				if err != nil {
					return capability.Failure("read %s: %v", path, err), nil
				}
				return &capability.Result{Success: true, Content: string(data)}, nil
			},
		},
		&capability.Func{
			CapName: "file_export",
			ValidateFunc: func(args capability.Args) error {
				if err := requireString("path")(args); err != nil {
					return err
				}
				return requireString("content")(args)
			},
			InvokeFunc: func(ctx context.Context, args capability.Args) (*capability.Result, error) {
				path, _ := args["path"].(string)
				content, _ := args["content"].(string)
				if err := os.WriteFile(path, []byte(content), 0644); err != nil {
					return capability.Failure("write %s: %v", path, err), nil
				}
				return &capability.Result{Success: true, Content: fmt.Sprintf("wrote %d bytes to %s", len(content), path)}, nil
			},
		},
		&capability.Func{
			CapName:      "list_directory",
			ValidateFunc: requireString("path"),
			InvokeFunc: func(ctx context.Context, args capability.Args) (*capability.Result, error) {
				path, _ := args["path"].(string)
				entries, err := os.ReadDir(path)
				if err != nil {
					return capability.Failure("list %s: %v", path, err), nil
				}
				out := ""
				for _, e := range entries {
					if e.IsDir() {
						out += e.Name() + "/\n"
					} else {
						out += e.Name() + "\n"
					}
				}
				return &capability.Result{Success: true, Content: out}, nil
			},
		},
		&capability.Func{
			CapName:      "fetch_url",
			ValidateFunc: requireString("url"),
			InvokeFunc: func(ctx context.Context, args capability.Args) (*capability.Result, error) {
				url, _ := args["url"].(string)
				req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
				if err != nil {
					return capability.Failure("bad url %s: %v", url, err), nil
				}
				resp, err := http.DefaultClient.Do(req)
				if err != nil {
					return nil, fmt.Errorf("fetch %s: %w", url, err)
				}
				defer resp.Body.Close()
				body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBody))
				if err != nil {
					return nil, fmt.Errorf("read body of %s: %w", url, err)
				}
				if resp.StatusCode >= 400 {
					return nil, fmt.Errorf("fetch %s: status code %d", url, resp.StatusCode)
				}
				return &capability.Result{Success: true, Content: string(body)}, nil
			},
		},
		&capability.Func{
			CapName: "current_time",
			InvokeFunc: func(ctx context.Context, args capability.Args) (*capability.Result, error) {
				return &capability.Result{Success: true, Content: time.Now().Format(time.RFC3339)}, nil
			},
		},
	}

	for _, c := range builtins {
		if err := reg.Register(c); err != nil {
			return fmt.Errorf("register %s: %w", c.Name(), err)
		}
	}
	return nil
}

// requireString validates that a named argument is a non-empty string.
func requireString(key string) func(capability.Args) error {
	return func(args capability.Args) error {
		v, ok := args[key].(string)
		if !ok || v == "" {
			return fmt.Errorf("argument %q must be a non-empty string", key)
		}
		return nil
	}
}

// builtinSpecs describes the built-in capabilities to the model.
func builtinSpecs() []api.CapabilitySpec {
	return []api.CapabilitySpec{
		{
			Name:        "file_read",
			Description: "Read a file and return its contents as text.",
			Parameters: map[string]any{
				"path": map[string]any{"type": "string", "description": "Path of the file to read."},
			},
			Required: []string{"path"},
		},
		{
			Name:        "file_export",
			Description: "Write text content to a file, creating or overwriting it.",
			Parameters: map[string]any{
				"path":    map[string]any{"type": "string", "description": "Destination file path."},
				"content": map[string]any{"type": "string", "description": "Text content to write."},
			},
			Required: []string{"path", "content"},
		},
		{
			Name:        "list_directory",
			Description: "List the entries of a directory, one name per line.",
			Parameters: map[string]any{
				"path": map[string]any{"type": "string", "description": "Directory path to list."},
			},
			Required: []string{"path"},
		},
		{
			Name:        "fetch_url",
			Description: "Fetch a URL over HTTP GET and return the response body.",
			Parameters: map[string]any{
				"url": map[string]any{"type": "string", "description": "URL to fetch."},
			},
			Required: []string{"url"},
		},
		{
			Name:        "current_time",
			Description: "Return the current local time in RFC 3339 format.",
			Parameters:  map[string]any{},
		},
	}
}
