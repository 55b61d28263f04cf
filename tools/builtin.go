package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/concordlabs/concord/core"
	"github.com/concordlabs/concord/orchestration"
)

// Deps carries the external backends the built-in tools depend on.
// Nil fields fall back to local implementations where one exists.
type Deps struct {
	Mailer   Mailer
	Searcher Searcher
	Logger   core.Logger
}

// RegisterBuiltins registers the standard tool set on the registry.
// The caller freezes the registry once all tools are in.
func RegisterBuiltins(reg *orchestration.Registry, cfg *core.Config, deps Deps) error {
	logger := deps.Logger
	if logger == nil {
		logger = &core.NoOpLogger{}
	}

	roots := cfg.Sandbox.Roots
	// Captured screenshots live outside the user's folders but must be
	// readable and attachable by the file tools
	if cfg.Screenshots.BaseDir != "" {
		roots = append(append([]string(nil), roots...), cfg.Screenshots.BaseDir)
	}
	sandbox, err := NewSandbox(roots)
	if err != nil {
		return fmt.Errorf("building sandbox: %w", err)
	}
	files := NewFileTools(sandbox)

	mailer := deps.Mailer
	if mailer == nil {
		mailer = NewDraftMailer(logger)
	}
	email := NewEmailTool(mailer)

	specs := []struct {
		spec orchestration.ToolSpec
		ctor func() (orchestration.Handler, error)
	}{
		{
			spec: orchestration.ToolSpec{
				Name:             orchestration.TerminalAction,
				Description:      "Deliver the final reply to the user. Must be the last step of every plan.",
				DeliveryTerminal: true,
				Parameters: []orchestration.ParameterSpec{
					{Name: "message", Type: "string", Required: true, Description: "the reply text"},
					{Name: "details", Type: "any", Required: false, Description: "structured findings to render"},
					{Name: "attachments", Type: "array", Required: false},
					{Name: "status", Type: "string", Required: false},
				},
			},
			ctor: func() (orchestration.Handler, error) {
				return orchestration.HandlerFunc(replyToUser), nil
			},
		},
		{
			spec: orchestration.ToolSpec{
				Name:        "compose_email",
				Description: "Compose an email with subject, body, and attachments; set send=true to deliver it.",
				Parameters: []orchestration.ParameterSpec{
					{Name: "to", Type: "array", Required: true},
					{Name: "subject", Type: "string", Required: true},
					{Name: "body", Type: "string", Required: false},
					{Name: "attachments", Type: "array", Required: false},
					{Name: "send", Type: "boolean", Required: false},
				},
				DefaultDeadline: 30 * time.Second,
			},
			ctor: func() (orchestration.Handler, error) {
				return orchestration.HandlerFunc(email.Compose), nil
			},
		},
		{
			spec: orchestration.ToolSpec{
				Name:        "google_search",
				Description: "Search the web and return titled results with snippets.",
				Parameters: []orchestration.ParameterSpec{
					{Name: "query", Type: "string", Required: true},
				},
				Pure:            true,
				ConcurrencySafe: true,
				DefaultDeadline: 20 * time.Second,
			},
			ctor: func() (orchestration.Handler, error) {
				if deps.Searcher == nil {
					return nil, fmt.Errorf("google_search requires a search backend")
				}
				return orchestration.HandlerFunc(NewSearchTool(deps.Searcher).Search), nil
			},
		},
		{
			spec: orchestration.ToolSpec{
				Name:        "folder_find_duplicates",
				Description: "Scan a folder for files with identical content and report duplicate groups and wasted space.",
				Parameters: []orchestration.ParameterSpec{
					{Name: "folder_path", Type: "string", Required: false, Description: "defaults to the sandbox root"},
				},
				Pure:            true,
				ConcurrencySafe: true,
				DefaultDeadline: 2 * time.Minute,
			},
			ctor: func() (orchestration.Handler, error) {
				return orchestration.HandlerFunc(files.FindDuplicates), nil
			},
		},
		{
			spec: orchestration.ToolSpec{
				Name:        "read_file",
				Description: "Read a file inside the configured sandbox roots.",
				Parameters: []orchestration.ParameterSpec{
					{Name: "path", Type: "string", Required: true},
				},
				Pure:            true,
				ConcurrencySafe: true,
			},
			ctor: func() (orchestration.Handler, error) {
				return orchestration.HandlerFunc(files.ReadFile), nil
			},
		},
		{
			spec: orchestration.ToolSpec{
				Name:        "write_file",
				Description: "Write content to a file inside the configured sandbox roots.",
				Parameters: []orchestration.ParameterSpec{
					{Name: "path", Type: "string", Required: true},
					{Name: "content", Type: "string", Required: true},
				},
			},
			ctor: func() (orchestration.Handler, error) {
				return orchestration.HandlerFunc(files.WriteFile), nil
			},
		},
	}

	for _, s := range specs {
		if err := reg.Register(s.spec, s.ctor); err != nil {
			return err
		}
	}
	return nil
}

// replyToUser is the terminal handler. The executor captures its
// resolved parameters for the finalizer; the handler itself just
// echoes them so the step records a payload.
func replyToUser(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	out := make(map[string]interface{}, len(params))
	for k, v := range params {
		out[k] = v
	}
	return out, nil
}
