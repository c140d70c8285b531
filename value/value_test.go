package value

import (
	"testing"
	"time"
)

func TestOfScalars(t *testing.T) {
	cases := []struct {
		in   any
		kind Kind
	}{
		{nil, KindNull},
		{true, KindInt},
		{int32(7), KindInt},
		{uint64(7), KindUint},
		{float32(1.5), KindFloat32},
		{float64(1.5), KindDouble},
		{"hi", KindBytes},
		{[]byte("hi"), KindBytes},
	}
	for _, c := range cases {
		v, err := Of(c.in)
		if err != nil {
			t.Fatalf("Of(%v): %v", c.in, err)
		}
		if v.Kind != c.kind {
			t.Fatalf("Of(%v).Kind = %v, want %v", c.in, v.Kind, c.kind)
		}
	}
}

func TestOfUnsupportedType(t *testing.T) {
	_, err := Of(struct{ X int }{1})
	if err == nil {
		t.Fatal("expected error for unsupported type")
	}
	if _, ok := err.(*UnsupportedTypeError); !ok {
		t.Fatalf("err = %T, want *UnsupportedTypeError", err)
	}
}

func TestOfValuer(t *testing.T) {
	v, err := Of(customValuer{})
	if err != nil {
		t.Fatalf("Of: %v", err)
	}
	if v.Kind != KindInt || v.Int != 99 {
		t.Fatalf("v = %+v, want Int(99)", v)
	}
}

type customValuer struct{}

func (customValuer) MysqlValue() Value { return Value{Kind: KindInt, Int: 99} }

func TestFromTime(t *testing.T) {
	tm := time.Date(2024, 3, 4, 5, 6, 7, 8000, time.UTC)
	v := FromTime(tm)
	if v.Kind != KindDate || v.Year != 2024 || v.Month != 3 || v.Day != 4 {
		t.Fatalf("v = %+v", v)
	}
	if v.Hour != 5 || v.Minute != 6 || v.Second != 7 || v.Microsecond != 8 {
		t.Fatalf("v time component = %+v", v)
	}
}

func TestIsNull(t *testing.T) {
	if !Null.IsNull() {
		t.Fatal("Null.IsNull() = false")
	}
	v, _ := Of(5)
	if v.IsNull() {
		t.Fatal("Of(5).IsNull() = true")
	}
}
