package ir

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsEmpty(t *testing.T) {
	tests := []struct {
		name  string
		value IRValue
		want  bool
	}{
		{"nil", nil, true},
		{"null", IRNull{}, true},
		{"empty string", IRString(""), true},
		{"blank string", IRString(" \t "), true},
		{"string", IRString("x"), false},
		{"zero int", IRInt(0), false},
		{"false", IRBool(false), false},
		{"empty object", IRObject{}, true},
		{"empty array", IRArray{}, true},
		{"decimal", IRDecimal("0.00"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsEmpty(tt.value))
		})
	}
}

func TestText(t *testing.T) {
	assert.Equal(t, "abc", Text(IRString("abc")))
	assert.Equal(t, "1500.50", Text(IRDecimal("1500.50")))
	assert.Equal(t, "-7", Text(IRInt(-7)))
	assert.Equal(t, "true", Text(IRBool(true)))
	assert.Equal(t, "", Text(IRNull{}))
	assert.Equal(t, "", Text(IRObject{"a": IRString("b")}))
}

func TestClone(t *testing.T) {
	orig := IRObject{
		"name":     IRString("x"),
		"location": IRObject{"city": IRString("Denver")},
		"tags":     IRArray{IRString("a")},
	}
	c := orig.Clone()
	assert.Equal(t, orig, c)

	c["location"].(IRObject)["city"] = IRString("Boston")
	c["tags"].(IRArray)[0] = IRString("b")
	assert.Equal(t, IRString("Denver"), orig["location"].(IRObject)["city"])
	assert.Equal(t, IRString("a"), orig["tags"].(IRArray)[0])

	assert.Nil(t, IRObject(nil).Clone())
}

func TestIRObjectJSONRoundTrip(t *testing.T) {
	orig := IRObject{
		"amount":   IRDecimal("10.00"),
		"count":    IRInt(3),
		"active":   IRBool(true),
		"missing":  IRNull{},
		"location": IRObject{"city": IRString("Denver")},
		"codes":    IRArray{IRString("a"), IRInt(1)},
	}
	data, err := json.Marshal(orig)
	require.NoError(t, err)

	var back IRObject
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, orig, back)
}

func TestIRObjectUnmarshalRejectsExponent(t *testing.T) {
	var obj IRObject
	err := json.Unmarshal([]byte(`{"a":1e5}`), &obj)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exponent")
}

func TestSortedKeys(t *testing.T) {
	obj := IRObject{"b": IRNull{}, "a": IRNull{}, "c": IRNull{}}
	assert.Equal(t, []string{"a", "b", "c"}, obj.SortedKeys())
}
