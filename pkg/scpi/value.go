package scpi

// Accessors for reading parsed arguments back out of a Command. Each returns
// ok=false when the argument is of another kind. The parser produces Float
// for every number, so AsFloat and AsInt both accept Int and Float args.

// AsFloat returns a numeric argument's value.
func AsFloat(v Value) (float64, bool) {
	switch a := v.(type) {
	case floatArg:
		return float64(a), true
	case intArg:
		return float64(a), true
	}
	return 0, false
}

// AsInt returns a numeric argument's value truncated to int.
func AsInt(v Value) (int, bool) {
	f, ok := AsFloat(v)
	return int(f), ok
}

// AsSym returns a bare-symbol argument.
func AsSym(v Value) (string, bool) {
	a, ok := v.(symArg)
	return string(a), ok
}

// AsString returns a quoted-string argument, unquoted.
func AsString(v Value) (string, bool) {
	a, ok := v.(strArg)
	return string(a), ok
}

// AsChannels returns a channel-list argument.
func AsChannels(v Value) ([]int, bool) {
	a, ok := v.(chansArg)
	if !ok {
		return nil, false
	}
	return append([]int(nil), a...), true
}
