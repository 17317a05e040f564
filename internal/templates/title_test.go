package templates

import (
	"testing"

	"pixverse/internal/domain"
)

func TestLocalizedCategoryTitle(t *testing.T) {
	cat := domain.TemplateCategory{
		CategoryTitleRu: "Тренды",
		CategoryTitleEn: "Trending",
	}

	cases := []struct {
		locale string
		want   string
	}{
		{"ru", "Тренды"},
		{"ru-RU", "Тренды"},
		{"en", "Trending"},
		{"en-US", "Trending"},
		{"de-DE", "Trending"},
		{"", "Trending"},
		{"not a locale", "Trending"},
	}
	for _, tc := range cases {
		if got := LocalizedCategoryTitle(cat, tc.locale); got != tc.want {
			t.Errorf("LocalizedCategoryTitle(%q) = %q, want %q", tc.locale, got, tc.want)
		}
	}
}

func TestLocalizedCategoryTitleFallsBackWhenRussianMissing(t *testing.T) {
	cat := domain.TemplateCategory{CategoryTitleEn: "Trending"}
	if got := LocalizedCategoryTitle(cat, "ru"); got != "Trending" {
		t.Fatalf("LocalizedCategoryTitle(ru) = %q, want English fallback", got)
	}
}
