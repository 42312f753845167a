// SPDX-License-Identifier: Apache-2.0

package check_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/tools/txtar"

	"github.com/dbsentinel/dbsentinel/pkg/check"
	"github.com/dbsentinel/dbsentinel/pkg/dbconn"
)

const parameterSchemaTestDataDir = "testdata/params"

// parameterSchema is the JSON Schema every fixture in testdata/params is
// validated against: a "threshold" number is required, "enabled" is an
// optional boolean.
const parameterSchema = `{
	"type": "object",
	"properties": {
		"threshold": {"type": "number"},
		"enabled": {"type": "boolean"}
	},
	"required": ["threshold"]
}`

// TestRegisterValidatesParametersAgainstSchema walks every txtar fixture
// under testdata/params, each holding a candidate params.json document
// and a "valid" file recording whether it should pass the check's
// ParameterSchema, mirroring the fixture-driven JSON Schema test the
// teacher's internal/jsonschema package runs against its own schema.json.
func TestRegisterValidatesParametersAgainstSchema(t *testing.T) {
	t.Parallel()

	files, err := os.ReadDir(parameterSchemaTestDataDir)
	require.NoError(t, err)

	for _, file := range files {
		file := file
		t.Run(file.Name(), func(t *testing.T) {
			t.Parallel()

			ac, err := txtar.ParseFile(filepath.Join(parameterSchemaTestDataDir, file.Name()))
			require.NoError(t, err)
			require.Len(t, ac.Files, 2)

			var params json.RawMessage
			require.NoError(t, json.Unmarshal(ac.Files[0].Data, &params))

			shouldValidate, err := strconv.ParseBool(strings.TrimSpace(string(ac.Files[1].Data)))
			require.NoError(t, err)

			r := check.NewRegistry()
			c := check.Func{
				Def: check.Definition{
					ID:              "test.parameter_schema." + file.Name(),
					Name:            "parameter schema fixture",
					Category:        check.CategoryPerformance,
					Enabled:         true,
					ParameterSchema: json.RawMessage(parameterSchema),
					Parameters:      params,
				},
				Run: func(ctx context.Context, db dbconn.DB, def check.Definition) check.Result {
					return check.Result{CheckID: def.ID, Status: check.StatusPassed}
				},
			}

			err = r.Register(c)
			if shouldValidate {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}
