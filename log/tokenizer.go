/*
 *
 * k6 - a next-generation load testing tool
 * Copyright (C) 2020 Load Impact
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as
 * published by the Free Software Foundation, either version 3 of the
 * License, or (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 *
 */

package log

import "fmt"

type token struct {
	key, value string
	inside     rune // shows whether it's inside a given collection, currently [ means it's an array
}

// tokenize splits a `key=value,key2=[v1,v2]` config line. Values may be
// empty, it is up to the caller to reject them.
func tokenize(line string) ([]token, error) {
	var (
		tokens []token
		start  int
		key    string
		inside rune
	)
	for i := 0; i < len(line); i++ {
		c := line[i]
		switch {
		case key == "" && c == '=':
			key = line[start:i]
			start = i + 1
		case key == "" && c == ',':
			return nil, fmt.Errorf("key `%s` with no value", line[start:i])
		case key != "" && i == start && c == '[':
			inside = '['
			start = i + 1
		case key != "" && inside == '[' && c == ']':
			tokens = append(tokens, token{key: key, value: line[start:i], inside: inside})
			key, inside = "", 0
			if i+1 < len(line) && line[i+1] == ',' {
				i++
			}
			start = i + 1
		case key != "" && inside == 0 && c == ',':
			tokens = append(tokens, token{key: key, value: line[start:i]})
			key = ""
			start = i + 1
		}
	}

	switch {
	case inside != 0:
		return nil, fmt.Errorf("unterminated array for key `%s`", key)
	case key != "":
		tokens = append(tokens, token{key: key, value: line[start:]})
	case start < len(line):
		tokens = append(tokens, token{key: line[start:]})
	}

	return tokens, nil
}
