package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cxxada/internal/diag"
	"github.com/roach88/cxxada/internal/ir"
)

func TestOutputFormatter_JSONSuccess(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format: "json",
		Writer: buf,
	}

	err := formatter.Success(map[string]string{"result": "success"})
	require.NoError(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.NotNil(t, resp.Data)
}

func TestOutputFormatter_JSONError(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format: "json",
		Writer: buf,
	}

	err := formatter.Error("E005", "configuration not found", map[string]string{"path": "x.cue"})
	require.NoError(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "E005", resp.Error.Code)
	assert.Equal(t, "configuration not found", resp.Error.Message)
	assert.NotNil(t, resp.Error.Details)
}

func TestOutputFormatter_TextError(t *testing.T) {
	tests := []struct {
		name        string
		verbose     bool
		wantDetails bool
	}{
		{"quiet", false, false},
		{"verbose", true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			formatter := &OutputFormatter{Format: "text", Writer: buf, Verbose: tt.verbose}

			require.NoError(t, formatter.Error("E001", "run failed", map[string]string{"header": "a.hpp"}))
			assert.Contains(t, buf.String(), "Error [E001]: run failed")
			assert.Equal(t, tt.wantDetails, bytes.Contains(buf.Bytes(), []byte("Details:")))
		})
	}
}

func TestOutputFormatter_VerboseLog(t *testing.T) {
	tests := []struct {
		name    string
		verbose bool
		wantLog bool
	}{
		{"verbose_enabled", true, true},
		{"verbose_disabled", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := &bytes.Buffer{}
			errOut := &bytes.Buffer{}
			formatter := &OutputFormatter{
				Format:    "json",
				Writer:    out,
				ErrWriter: errOut,
				Verbose:   tt.verbose,
			}

			formatter.VerboseLog("Parsing %s", "geo.hpp")

			assert.Empty(t, out.String())
			if tt.wantLog {
				assert.Contains(t, errOut.String(), "Parsing geo.hpp")
			} else {
				assert.Empty(t, errOut.String())
			}
		})
	}
}

func TestOutputFormatter_Report(t *testing.T) {
	warning := diag.Warnf(diag.ParseError, diag.CodeParse, "f", ir.Location{File: "a.hpp", Line: 3}, "skipped")
	failure := diag.Errorf(diag.UnsupportedLayout, diag.CodeLayout, "S", ir.Location{}, "no layout")

	t.Run("json status follows severity", func(t *testing.T) {
		for _, tt := range []struct {
			ds   []diag.Diagnostic
			want string
		}{
			{nil, "ok"},
			{[]diag.Diagnostic{warning}, "ok"},
			{[]diag.Diagnostic{warning, failure}, "error"},
		} {
			buf := &bytes.Buffer{}
			formatter := &OutputFormatter{Format: "json", Writer: buf}
			require.NoError(t, formatter.Report(map[string]int{"units": 1}, tt.ds, nil))

			var resp CLIResponse
			require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
			assert.Equal(t, tt.want, resp.Status)
			assert.Len(t, resp.Diagnostics, len(tt.ds))
		}
	})

	t.Run("text splits diagnostics from payload", func(t *testing.T) {
		out := &bytes.Buffer{}
		errOut := &bytes.Buffer{}
		formatter := &OutputFormatter{Format: "text", Writer: out, ErrWriter: errOut}

		err := formatter.Report(nil, []diag.Diagnostic{warning}, func(w io.Writer) error {
			_, err := fmt.Fprintln(w, "payload")
			return err
		})
		require.NoError(t, err)
		assert.Equal(t, "payload\n", out.String())
		assert.Equal(t, warning.Error()+"\n", errOut.String())
	})
}

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitSuccess, GetExitCode(nil))
	assert.Equal(t, ExitFailure, GetExitCode(NewExitError(ExitFailure, "missing symbols")))
	assert.Equal(t, ExitCommandError, GetExitCode(WrapExitError(ExitCommandError, "open", errors.New("boom"))))
	assert.Equal(t, ExitFailure, GetExitCode(fmt.Errorf("wrapped: %w", reported(ExitFailure, "failed"))))
	assert.Equal(t, ExitCommandError, GetExitCode(errors.New("unknown flag: --nope")))
}

func TestExitError_Message(t *testing.T) {
	assert.Equal(t, "open: boom", WrapExitError(ExitCommandError, "open", errors.New("boom")).Error())
	assert.Equal(t, "plain", NewExitError(ExitFailure, "plain").Error())
}
