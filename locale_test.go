package main

import (
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

// Test locale detection
func TestDetectSystemLocale(t *testing.T) {
	testCases := []struct {
		name           string
		lang           string
		lcAll          string
		lcMessages     string
		expectedLocale string
	}{
		{
			name:           "English US locale from LANG",
			lang:           "en_US.UTF-8",
			expectedLocale: "en_US",
		},
		{
			name:           "Traditional Chinese locale from LANG",
			lang:           "zh_TW.UTF-8",
			expectedLocale: "zh_TW",
		},
		{
			name:           "LANG takes precedence when both LANG and LC_ALL are set",
			lang:           "en_US.UTF-8",
			lcAll:          "zh_TW.UTF-8",
			expectedLocale: "en_US",
		},
		{
			name:           "LC_ALL used when LANG is empty",
			lcAll:          "zh_TW.UTF-8",
			expectedLocale: "zh_TW",
		},
		{
			name:           "C locale is skipped",
			lang:           "C.UTF-8",
			lcMessages:     "zh_TW",
			expectedLocale: "zh_TW",
		},
		{
			name:           "Fallback to en_US when empty",
			expectedLocale: "en_US",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("LANG", tc.lang)
			t.Setenv("LC_ALL", tc.lcAll)
			t.Setenv("LC_MESSAGES", tc.lcMessages)

			if got := DetectSystemLocale(); got != tc.expectedLocale {
				t.Errorf("Expected locale '%s', got '%s'", tc.expectedLocale, got)
			}
		})
	}
}

func TestLoadLocale(t *testing.T) {
	for _, name := range []string{"en_US", "zh_TW"} {
		t.Run(name, func(t *testing.T) {
			l, err := LoadLocale(name)
			if err != nil {
				t.Fatalf("Failed to load %s: %v", name, err)
			}
			if l.locale != name {
				t.Errorf("Expected locale '%s', got '%s'", name, l.locale)
			}
			if l.translations["trains_header"] == "" {
				t.Error("Expected trains_header to be translated")
			}
		})
	}

	t.Run("Load non-existent locale file", func(t *testing.T) {
		if _, err := LoadLocale("xx_XX"); err == nil {
			t.Error("Expected an error for a missing locale")
		}
	})
}

func TestParseLocaleInvalidYAML(t *testing.T) {
	if _, err := parseLocale("broken", []byte("key: [unclosed")); err == nil {
		t.Error("Expected a parse error")
	}
}

// Test T() translation function
func TestTranslationFunction(t *testing.T) {
	testLocale := &Locale{
		translations: map[string]string{
			"simple_key":          "Simple Translation",
			"key_with_param":      "Hello, %s!",
			"key_with_two_params": "Train %s leaves at %s",
		},
		locale: "test",
	}

	originalLocale := globalLocale
	globalLocale = testLocale
	defer func() {
		globalLocale = originalLocale
	}()

	testCases := []struct {
		name           string
		key            string
		params         []interface{}
		expectedOutput string
	}{
		{"Simple translation", "simple_key", nil, "Simple Translation"},
		{"Translation with one parameter", "key_with_param", []interface{}{"World"}, "Hello, World!"},
		{"Translation with two parameters", "key_with_two_params", []interface{}{"0603", "10:16"}, "Train 0603 leaves at 10:16"},
		{"Missing key returns key itself", "nonexistent_key", nil, "nonexistent_key"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if result := T(tc.key, tc.params...); result != tc.expectedOutput {
				t.Errorf("Expected '%s', got '%s'", tc.expectedOutput, result)
			}
		})
	}
}

func TestGetLocale(t *testing.T) {
	originalLocale := globalLocale
	defer func() {
		globalLocale = originalLocale
	}()

	globalLocale = nil
	if result := GetLocale(); result != "en_US" {
		t.Errorf("Expected default locale 'en_US' when globalLocale is nil, got '%s'", result)
	}

	globalLocale = &Locale{translations: map[string]string{}, locale: "zh_TW"}
	if result := GetLocale(); result != "zh_TW" {
		t.Errorf("Expected locale 'zh_TW', got '%s'", result)
	}
}

func TestTranslationWithNilGlobalLocale(t *testing.T) {
	originalLocale := globalLocale
	globalLocale = nil
	defer func() {
		globalLocale = originalLocale
	}()

	if result := T("test_key"); result != "test_key" {
		t.Errorf("Expected T() to return key when globalLocale is nil, got '%s'", result)
	}
}

func bundledKeys(t *testing.T, name string) map[string]string {
	t.Helper()
	data, err := bundledLocales.ReadFile("lang/" + name + ".yaml")
	if err != nil {
		t.Fatalf("Failed to read bundled %s: %v", name, err)
	}
	var m map[string]string
	if err := yaml.Unmarshal(data, &m); err != nil {
		t.Fatalf("Failed to parse bundled %s: %v", name, err)
	}
	return m
}

// Both catalogs must define the same keys.
func TestLocaleCatalogsMatch(t *testing.T) {
	en := bundledKeys(t, "en_US")
	zh := bundledKeys(t, "zh_TW")

	for k := range en {
		if _, ok := zh[k]; !ok {
			t.Errorf("zh_TW is missing %s", k)
		}
	}
	for k := range zh {
		if _, ok := en[k]; !ok {
			t.Errorf("en_US is missing %s", k)
		}
	}

	// Format verbs have to line up or Sprintf output breaks in one language.
	verbs := regexp.MustCompile(`%[sdvq]`)
	for k, v := range en {
		if got, want := verbs.FindAllString(zh[k], -1), verbs.FindAllString(v, -1); strings.Join(got, "") != strings.Join(want, "") {
			t.Errorf("%s: zh_TW verbs %v, en_US verbs %v", k, got, want)
		}
	}
}

// Every key passed to T in the source has a translation.
func TestLocalizationKeysExist(t *testing.T) {
	files, err := filepath.Glob("*.go")
	if err != nil {
		t.Fatal(err)
	}

	call := regexp.MustCompile(`\bT\("([a-z0-9_]+)"`)
	used := map[string]bool{}
	for _, f := range files {
		if strings.HasSuffix(f, "_test.go") {
			continue
		}
		src, err := os.ReadFile(f)
		if err != nil {
			t.Fatal(err)
		}
		for _, m := range call.FindAllSubmatch(src, -1) {
			used[string(m[1])] = true
		}
	}
	if len(used) == 0 {
		t.Fatal("Found no T() calls")
	}

	en := bundledKeys(t, "en_US")
	var missing []string
	for k := range used {
		if _, ok := en[k]; !ok {
			missing = append(missing, k)
		}
	}
	sort.Strings(missing)
	if len(missing) > 0 {
		t.Errorf("Keys without translation: %v", missing)
	}
}
