//  Copyright (c) 2023 Uber Technologies, Inc.
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

// Package pathhelper formats file paths for log fields and messages.
package pathhelper

import (
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

var _cwd = func() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}
	return cwd
}()

// RelToCwd returns filename relative to the working directory at startup. Relative names and
// files outside the working directory are returned unchanged.
func RelToCwd(filename string) string {
	if _cwd == "" || !filepath.IsAbs(filename) {
		return filename
	}
	rel, err := filepath.Rel(_cwd, filename)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return filename
	}
	return rel
}

// Field is a zap field holding the working-directory-relative form of filename.
func Field(key, filename string) zap.Field {
	return zap.String(key, RelToCwd(filename))
}
