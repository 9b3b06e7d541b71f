package localstorage

import (
	"bufio"
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"vidstream/internal/core/domain"
)

const (
	netscapeHeader = "# Netscape HTTP Cookie File"
	httpOnlyPrefix = "#HttpOnly_"
)

// ParseNetscape reads a Netscape cookie jar. Comment lines are skipped except
// the #HttpOnly_ domain prefix used by curl and browsers.
func ParseNetscape(data []byte) ([]domain.Cookie, error) {
	var cookies []domain.Cookie
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimRight(sc.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		httpOnly := false
		if strings.HasPrefix(line, httpOnlyPrefix) {
			httpOnly = true
			line = strings.TrimPrefix(line, httpOnlyPrefix)
		} else if strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Split(line, "\t")
		if len(fields) == 6 {
			fields = append(fields, "")
		}
		if len(fields) != 7 {
			return nil, fmt.Errorf("line %d: expected 7 tab-separated fields, got %d", lineNo, len(fields))
		}
		var expires int64
		if s := strings.TrimSpace(fields[4]); s != "" {
			v, err := strconv.ParseInt(s, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: invalid expiry %q", lineNo, s)
			}
			expires = v
		}
		cookies = append(cookies, domain.Cookie{
			Domain:   fields[0],
			Path:     fields[2],
			Secure:   strings.EqualFold(fields[3], "TRUE"),
			Expires:  expires,
			Name:     fields[5],
			Value:    fields[6],
			HTTPOnly: httpOnly,
		})
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return cookies, nil
}

// FormatNetscape renders cookies as a Netscape jar. Session cookies get an
// empty expiry column; "0" would be read as already expired.
func FormatNetscape(cookies []domain.Cookie) []byte {
	var b bytes.Buffer
	b.WriteString(netscapeHeader + "\n")
	b.WriteString("# This file is generated by vidstream. Do not edit.\n\n")
	for _, c := range cookies {
		d := strings.TrimSpace(c.Domain)
		if d == "" || c.Name == "" || !jarSafe(d, c.Name, c.Value, c.Path) {
			continue
		}
		includeSubdomains := "FALSE"
		if strings.HasPrefix(d, ".") {
			includeSubdomains = "TRUE"
		}
		path := c.Path
		if path == "" {
			path = "/"
		}
		secure := "FALSE"
		if c.Secure {
			secure = "TRUE"
		}
		expires := ""
		if c.Expires > 0 {
			expires = strconv.FormatInt(c.Expires, 10)
		}
		if c.HTTPOnly {
			d = httpOnlyPrefix + d
		}
		fmt.Fprintf(&b, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n", d, includeSubdomains, path, secure, expires, c.Name, c.Value)
	}
	return b.Bytes()
}

// jarSafe rejects field values that would split or add jar lines.
func jarSafe(fields ...string) bool {
	for _, f := range fields {
		if strings.ContainsAny(f, "\t\r\n") {
			return false
		}
	}
	return true
}
