package value

import "fmt"

// Subscript and field access semantics shared by the LOAD_INDEX,
// STORE_INDEX, LOAD_FIELD and STORE_FIELD opcodes.

// GetIndex reads container[index]. Arrays and strings take integer
// indices, objects take string keys and instances treat the key as a
// field name. A missing object key reads as null.
func GetIndex(container, index Value) (Value, error) {
	switch container.Kind {
	case KindArray:
		if index.Kind != KindInt {
			return Null, fmt.Errorf("Array index must be an integer")
		}
		elems := container.AsArray().Elements
		if index.Int < 0 || index.Int >= int64(len(elems)) {
			return Null, fmt.Errorf("Array index out of range")
		}
		return elems[index.Int], nil
	case KindString:
		if index.Kind != KindInt {
			return Null, fmt.Errorf("String index must be an integer")
		}
		if index.Int < 0 || index.Int >= int64(len(container.Str)) {
			return Null, fmt.Errorf("String index out of range")
		}
		return NewString(string(container.Str[index.Int])), nil
	case KindObject:
		if index.Kind != KindString {
			return Null, fmt.Errorf("Object keys must be strings")
		}
		if v, ok := container.AsObject().Items[index.Str]; ok {
			return v, nil
		}
		return Null, nil
	case KindInstance:
		if index.Kind != KindString {
			return Null, fmt.Errorf("Object keys must be strings")
		}
		return GetField(container, index.Str)
	}
	return Null, fmt.Errorf("Cannot index value of type '%s'", container.TypeName())
}

// SetIndex writes container[index] = v. Strings are immutable, so only
// arrays, objects and instances accept writes.
func SetIndex(container, index, v Value) error {
	switch container.Kind {
	case KindArray:
		if index.Kind != KindInt {
			return fmt.Errorf("Array index must be an integer")
		}
		elems := container.AsArray().Elements
		if index.Int < 0 || index.Int >= int64(len(elems)) {
			return fmt.Errorf("Array index out of range")
		}
		elems[index.Int] = v
		return nil
	case KindObject:
		if index.Kind != KindString {
			return fmt.Errorf("Object keys must be strings")
		}
		container.AsObject().Items[index.Str] = v
		return nil
	case KindInstance:
		if index.Kind != KindString {
			return fmt.Errorf("Object keys must be strings")
		}
		container.AsInstance().Put(index.Str, v)
		return nil
	}
	return fmt.Errorf("Cannot index value of type '%s'", container.TypeName())
}

// GetField reads container.key. Instance methods come back bound to
// the instance, so a method reference keeps its receiver even when
// stored and called later.
func GetField(container Value, key string) (Value, error) {
	switch container.Kind {
	case KindInstance:
		inst := container.AsInstance()
		if v, ok := inst.Fields[key]; ok {
			return v, nil
		}
		if m, ok := inst.Struct.Methods[key]; ok {
			if m.Kind == KindClosure {
				return ClosureValue(m.AsClosure().BindSelf(container)), nil
			}
			return m, nil
		}
		return Null, fmt.Errorf("Undefined property `%s`.", key)
	case KindObject:
		if v, ok := container.AsObject().Items[key]; ok {
			return v, nil
		}
		return Null, nil
	}
	return Null, fmt.Errorf("Cannot index value of type '%s'", container.TypeName())
}

// SetField writes container.key = v on an instance or object.
func SetField(container Value, key string, v Value) error {
	switch container.Kind {
	case KindInstance:
		container.AsInstance().Put(key, v)
		return nil
	case KindObject:
		container.AsObject().Items[key] = v
		return nil
	}
	return fmt.Errorf("Cannot index value of type '%s'", container.TypeName())
}
