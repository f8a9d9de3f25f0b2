//  Copyright (c) 2025 Uber Technologies, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package pathhelper

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRelToCwd(t *testing.T) {
	t.Parallel()

	cwd, err := os.Getwd()
	require.NoError(t, err)
	outside := filepath.Join(filepath.Dir(cwd), "elsewhere", "demo.json")

	testcases := []struct {
		give string
		want string
	}{
		{give: filepath.Join(cwd, "testdata", "demo.json"), want: filepath.Join("testdata", "demo.json")},
		{give: filepath.Join("testdata", "demo.json"), want: filepath.Join("testdata", "demo.json")},
		{give: outside, want: outside},
	}
	for _, tc := range testcases {
		t.Run(tc.give, func(t *testing.T) {
			t.Parallel()

			require.Equal(t, tc.want, RelToCwd(tc.give))
		})
	}
}

func TestField(t *testing.T) {
	t.Parallel()

	cwd, err := os.Getwd()
	require.NoError(t, err)
	f := Field("path", filepath.Join(cwd, "vc.cache"))
	require.Equal(t, "path", f.Key)
	require.Equal(t, "vc.cache", f.String)
}
