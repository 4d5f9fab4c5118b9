package main

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// displayLabel turns a machine token such as "max_epochs" or
// "validation" into a label fit for tables and summaries.
func displayLabel(token string) string {
	if token == "" {
		return ""
	}
	return cases.Title(language.Und).String(strings.ReplaceAll(token, "_", " "))
}
