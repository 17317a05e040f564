package templates

import (
	"golang.org/x/text/language"

	"pixverse/internal/domain"
)

// catalogLanguages lists the locales the remote catalog ships titles for,
// most preferred first.
var catalogLanguages = []language.Tag{
	language.English,
	language.Russian,
}

var catalogMatcher = language.NewMatcher(catalogLanguages)

// LocalizedCategoryTitle picks the catalog title best matching the given
// locale, e.g. "ru-RU". Unknown or unsupported locales fall back to English.
func LocalizedCategoryTitle(cat domain.TemplateCategory, locale string) string {
	tag, err := language.Parse(locale)
	if err != nil {
		return cat.CategoryTitleEn
	}
	_, index, _ := catalogMatcher.Match(tag)
	if catalogLanguages[index] == language.Russian && cat.CategoryTitleRu != "" {
		return cat.CategoryTitleRu
	}
	return cat.CategoryTitleEn
}
