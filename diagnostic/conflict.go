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

package diagnostic

import (
	"fmt"
	"strings"

	"go.uber.org/contractaway/decl"
	"go.uber.org/contractaway/inference"
)

// effectConflict is one effect a function reaches without declaring it.
type effectConflict struct {
	functionID string
	effect     decl.EffectDeclaration
	// witness is nil when no declaring function was found.
	witness          *inference.Witness
	similarConflicts []*effectConflict
}

// origin is the function the missing effect is declared by.
func (c *effectConflict) origin() string {
	if c.witness == nil || len(c.witness.Path) == 0 {
		return ""
	}
	return c.witness.Path[len(c.witness.Path)-1]
}

func (c *effectConflict) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "reaches undeclared effect %s", c.effect)
	if c.witness != nil {
		fmt.Fprintf(&sb, " through %s", strings.Join(c.witness.Path, " -> "))
	}
	if len(c.similarConflicts) > 0 {
		ids := make([]string, len(c.similarConflicts))
		for i, s := range c.similarConflicts {
			ids[i] = fmt.Sprintf("%q", s.functionID)
		}
		fmt.Fprintf(&sb, " (the same effect of %s is also undeclared in %d other function(s): %s)",
			c.origin(), len(c.similarConflicts), strings.Join(ids, ", "))
	}
	return sb.String()
}

func (c *effectConflict) addSimilarConflict(other effectConflict) {
	c.similarConflicts = append(c.similarConflicts, &other)
}

// groupConflicts links every conflict to the other conflicts about the same effect of the same
// declaring function. Each conflict keeps its own entry.
func groupConflicts(all []effectConflict) []effectConflict {
	groups := make(map[string][]int)
	var keys []string
	for i, c := range all {
		if c.witness == nil {
			continue
		}
		key := c.effect.String() + "@" + c.origin()
		if _, ok := groups[key]; !ok {
			keys = append(keys, key)
		}
		groups[key] = append(groups[key], i)
	}

	for _, key := range keys {
		members := groups[key]
		for _, i := range members {
			for _, j := range members {
				if i != j {
					all[i].addSimilarConflict(all[j])
				}
			}
		}
	}
	return all
}
