package ir

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIRValueSealed(t *testing.T) {
	var _ IRValue = IRNull{}
	var _ IRValue = IRString("test")
	var _ IRValue = IRInt(42)
	var _ IRValue = IRBool(true)
	var _ IRValue = IRArray{IRString("a"), IRInt(1)}
	var _ IRValue = IRObject{"key": IRString("value")}
}

func TestIRObjectSortedKeys(t *testing.T) {
	obj := IRObject{
		"zebra":  IRString("z"),
		"apple":  IRString("a"),
		"banana": IRString("b"),
	}

	assert.Equal(t, []string{"apple", "banana", "zebra"}, obj.SortedKeys())
}

func TestIRObjectSortedKeysRFC8785Order(t *testing.T) {
	obj := IRObject{
		"a":  IRInt(1),
		"A":  IRInt(2),
		"aa": IRInt(3),
		"aA": IRInt(4),
		"Aa": IRInt(5),
		"AA": IRInt(6),
	}

	assert.Equal(t, []string{"A", "AA", "Aa", "a", "aA", "aa"}, obj.SortedKeys())
}

func TestCompareKeysRFC8785(t *testing.T) {
	assert.Equal(t, 0, compareKeysRFC8785("same", "same"))
	assert.Equal(t, -1, compareKeysRFC8785("a", "b"))
	assert.Equal(t, 1, compareKeysRFC8785("b", "a"))
	assert.Equal(t, -1, compareKeysRFC8785("ab", "abc"))

	// U+E000 is a single UTF-16 unit (0xE000); U+1F600 is a surrogate pair
	// starting 0xD83D, so it sorts first in UTF-16 but last in UTF-8.
	assert.Equal(t, 1, compareKeysRFC8785("\uE000", "\U0001F600"))
}

func TestIRObjectClone(t *testing.T) {
	orig := IRObject{
		"name":   IRString("John"),
		"emails": IRArray{IRString("a@example.com")},
		"nested": IRObject{"x": IRInt(1)},
	}

	clone := orig.Clone()
	clone["emails"].(IRArray)[0] = IRString("changed")
	clone["nested"].(IRObject)["x"] = IRInt(2)

	assert.Equal(t, IRString("a@example.com"), orig["emails"].(IRArray)[0])
	assert.Equal(t, IRInt(1), orig["nested"].(IRObject)["x"])
	assert.Nil(t, IRObject(nil).Clone())
}

func TestUnmarshalObjectRoundTrip(t *testing.T) {
	input := `{"name":"John Doe","age":35,"emails":["john.doe@example.com"],"active":true,"nick":null}`

	obj, err := UnmarshalObject([]byte(input))
	require.NoError(t, err)

	assert.Equal(t, IRString("John Doe"), obj["name"])
	assert.Equal(t, IRInt(35), obj["age"])
	assert.Equal(t, IRArray{IRString("john.doe@example.com")}, obj["emails"])
	assert.Equal(t, IRBool(true), obj["active"])
	assert.Equal(t, IRNull{}, obj["nick"])

	out, err := json.Marshal(obj)
	require.NoError(t, err)
	assert.Equal(t, `{"active":true,"age":35,"emails":["john.doe@example.com"],"name":"John Doe","nick":null}`, string(out))
}

func TestUnmarshalRejectsFloats(t *testing.T) {
	tests := []string{
		`{"x": 1.5}`,
		`{"x": 1e10}`,
		`{"x": [1, 2.0]}`,
	}

	for _, input := range tests {
		t.Run(input, func(t *testing.T) {
			_, err := UnmarshalObject([]byte(input))
			assert.Error(t, err)

			var obj IRObject
			assert.Error(t, json.Unmarshal([]byte(input), &obj))
		})
	}
}

func TestUnmarshalObjectRejectsNonObject(t *testing.T) {
	_, err := UnmarshalObject([]byte(`[1,2]`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected JSON object")
}

func TestUnmarshalPreservesLargeIntegers(t *testing.T) {
	var obj IRObject
	require.NoError(t, json.Unmarshal([]byte(`{"n": 9007199254740993}`), &obj))
	assert.Equal(t, IRInt(9007199254740993), obj["n"])
}

func TestFromGo(t *testing.T) {
	tests := []struct {
		name     string
		input    any
		expected IRValue
	}{
		{"nil", nil, IRNull{}},
		{"string", "abc", IRString("abc")},
		{"int", 20, IRInt(20)},
		{"int64", int64(-3), IRInt(-3)},
		{"uint16", uint16(7), IRInt(7)},
		{"bool", true, IRBool(true)},
		{"json number", json.Number("42"), IRInt(42)},
		{"string slice", []string{"a", "b"}, IRArray{IRString("a"), IRString("b")}},
		{"int slice", []int{1, 2}, IRArray{IRInt(1), IRInt(2)}},
		{"any slice", []any{"a", 1}, IRArray{IRString("a"), IRInt(1)}},
		{"map", map[string]any{"k": "v"}, IRObject{"k": IRString("v")}},
		{"ir value", IRString("x"), IRString("x")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FromGo(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestFromGoRejectsUnsupported(t *testing.T) {
	_, err := FromGo(1.5)
	assert.Error(t, err)

	_, err = FromGo(json.Number("2.5"))
	assert.Error(t, err)

	_, err = FromGo(struct{}{})
	assert.Error(t, err)

	_, err = FromGo([]any{"ok", 0.1})
	assert.Error(t, err)
}

func TestToGo(t *testing.T) {
	obj := IRObject{
		"name":   IRString("Jane"),
		"age":    IRInt(24),
		"emails": IRArray{IRString("jane@example.com")},
		"nick":   IRNull{},
		"admin":  IRBool(false),
	}

	assert.Equal(t, map[string]any{
		"name":   "Jane",
		"age":    int64(24),
		"emails": []any{"jane@example.com"},
		"nick":   nil,
		"admin":  false,
	}, ToGo(obj))
}

func TestMarshalIRValue(t *testing.T) {
	tests := []struct {
		name     string
		input    IRValue
		expected string
	}{
		{"null", IRNull{}, "null"},
		{"nil", nil, "null"},
		{"string", IRString("<a>"), `"<a>"`},
		{"int", IRInt(-1), "-1"},
		{"bool", IRBool(false), "false"},
		{"empty array", IRArray{}, "[]"},
		{"empty object", IRObject{}, "{}"},
		{"object without html escaping", IRObject{"<k>": IRArray{IRString("a&b")}}, `{"<k>":["a&b"]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := MarshalIRValue(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, string(out))
		})
	}
}

func TestHelperConstructors(t *testing.T) {
	obj := NewIRObjectFromPairs(O("name", IRString("John")), O("age", IRInt(35)))
	assert.Equal(t, IRObject{"name": IRString("John"), "age": IRInt(35)}, obj)

	arr := NewIRArray(IRInt(1), IRInt(2))
	assert.Equal(t, IRArray{IRInt(1), IRInt(2)}, arr)
}

func TestMarshalIRValue_MatchesCanonical(t *testing.T) {
	body := IRObject{"name": IRString("<Tom & Jerry>"), "tags": IRArray{IRString("a>b")}, "n": IRInt(3)}

	plain, err := MarshalIRValue(body)
	require.NoError(t, err)
	canonical, err := MarshalCanonical(body)
	require.NoError(t, err)
	assert.Equal(t, string(canonical), string(plain))
}
