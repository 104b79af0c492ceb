package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/mitchellh/go-homedir"
	"github.com/turbot/go-kit/helpers"
	"github.com/turbot/pipe-fittings/error_helpers"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"
)

// LoadFile reads and parses an HCL config file
func LoadFile(path string) (*AppConfig, error) {
	path, err := homedir.Expand(path)
	if err != nil {
		return nil, err
	}
	hclBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg := &AppConfig{}
	if err := Parse(hclBytes, path, cfg); err != nil {
		return nil, err
	}
	if cfg.Ingest != nil {
		cfg.Ingest.SetDefaults()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes HCL into target
// the variable env is available to expressions, holding the process environment, e.g. env.HOME
func Parse(hclBytes []byte, filename string, target Config) error {
	file, diags := hclsyntax.ParseConfig(hclBytes, filename, hcl.Pos{Line: 1, Column: 1})
	if diags != nil && diags.HasErrors() {
		slog.Warn("failed to parse config", "config type", target.Identifier(), "filename", filename)
		return error_helpers.HclDiagsToError(fmt.Sprintf("Failed to parse %s config", target.Identifier()), diags)
	}

	evalCtx := &hcl.EvalContext{
		Variables: map[string]cty.Value{
			"env": envValue(),
		},
		Functions: make(map[string]function.Function),
	}

	diags = append(diags, decodeHclBody(file.Body, evalCtx, target)...)
	if diags.HasErrors() {
		return error_helpers.HclDiagsToError(fmt.Sprintf("Failed to decode %s config", target.Identifier()), diags)
	}
	return nil
}

// decodeHclBody decodes the hcl body into the target resource, converting a decode panic into a diagnostic
func decodeHclBody(body hcl.Body, evalCtx *hcl.EvalContext, resource any) (diags hcl.Diagnostics) {
	defer func() {
		if r := recover(); r != nil {
			diags = append(diags, &hcl.Diagnostic{
				Severity: hcl.DiagError,
				Summary:  "unexpected error decoding config",
				Detail:   helpers.ToError(r).Error()})
		}
	}()

	return gohcl.DecodeBody(body, evalCtx, resource)
}

func envValue() cty.Value {
	vars := make(map[string]cty.Value)
	for _, kv := range os.Environ() {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || !hclsyntax.ValidIdentifier(k) {
			continue
		}
		vars[k] = cty.StringVal(v)
	}
	if len(vars) == 0 {
		return cty.EmptyObjectVal
	}
	return cty.ObjectVal(vars)
}
