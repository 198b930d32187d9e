package classify

import (
	"reflect"
	"testing"
)

func ok(tb testing.TB, err error) {
	tb.Helper()
	if err != nil {
		tb.Fatalf("unexpected error: %s", err.Error())
	}
}

func equals(tb testing.TB, act, exp interface{}) {
	tb.Helper()
	if !reflect.DeepEqual(exp, act) {
		tb.Fatalf("exp: %#v\n\tgot: %#v", exp, act)
	}
}

func notEquals(tb testing.TB, act, exp interface{}) {
	tb.Helper()
	if reflect.DeepEqual(exp, act) {
		tb.Fatalf("value shouldn't be: %#v", act)
	}
}
