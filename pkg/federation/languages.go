// Copyright (C) 2024 SampleDB Authors.
// See LICENSE for copying information.

package federation

import (
	"context"

	"sampledb.io/sampledb/pkg/component"
)

// englishLangCode is built in and never overwritten by imports.
const englishLangCode = "en"

// ImportLanguages applies a peer's language definitions. The built-in
// English language is never touched; translated name maps are filtered down
// to the language codes known after the import so that no entry references
// a language that does not exist locally.
func (service *Service) ImportLanguages(ctx context.Context, comp *component.Component, payload *LanguagesPayload) (changed bool, err error) {
	defer mon.Task()(&ctx)(&err)

	existing, err := service.languages.All(ctx)
	if err != nil {
		return false, Error.Wrap(err)
	}
	knownCodes := map[string]bool{englishLangCode: true}
	for _, language := range existing {
		knownCodes[language.LangCode] = true
	}
	for _, language := range payload.Languages {
		if language.LangCode != englishLangCode {
			knownCodes[language.LangCode] = true
		}
	}

	for _, incoming := range payload.Languages {
		if incoming.LangCode == englishLangCode || incoming.LangCode == "" {
			continue
		}
		names := map[string]string{}
		for code, name := range incoming.Names {
			if knownCodes[code] {
				names[code] = name
			}
		}
		entryChanged, err := service.languages.Upsert(ctx, &Language{
			LangCode:                incoming.LangCode,
			Names:                   names,
			DatetimeFormatDatetime:  incoming.DatetimeFormatDatetime,
			DatetimeFormatMoment:    incoming.DatetimeFormatMoment,
			DateFormatMoment:        incoming.DateFormatMoment,
			EnabledForInput:         incoming.EnabledForInput,
			EnabledForUserInterface: incoming.EnabledForUserInterface,
		})
		if err != nil {
			return changed, Error.Wrap(err)
		}
		changed = changed || entryChanged
	}
	return changed, nil
}
