package pers

import (
	"fmt"
	"runtime"
	"testing"
)

func TestObject_walkthrough(t *testing.T) {
	forEachStore(t, func(t *testing.T, s *Store) {
		root := must(s.Object("root"))

		ensure(root.Set("count", 123))
		deepEqual(t, must(root.Get("count")), any(123))

		ensure(root.Set(333, "ttt"))
		deepEqual(t, must(root.Get(333)), any("ttt"))
		deepEqual(t, must(root.Keys()), []any{"count", 333})

		child1 := must(root.Object("child1"))
		if again := must(root.Object("child1")); again != child1 {
			t.Errorf("child1 read twice gave two instances: %v and %v", child1, again)
		}
		deepEqual(t, must(root.Keys()), []any{"child1", "count", 333})

		attr4 := must(root.Get("attr4"))
		ensure(root.Set("attr3", attr4))
		if v := must(root.Get("attr3")); v != attr4 {
			t.Errorf("attr3 = %v, wanted %v", v, attr4)
		}
	})
}

func TestObject_sharedIdentity(t *testing.T) {
	forEachStore(t, func(t *testing.T, s *Store) {
		root := must(s.Object("root"))
		a := must(root.Object("a"))
		ensure(root.Set("alias", a))
		b := must(root.Object("alias"))
		if a != b {
			t.Fatalf("alias = %v, wanted the same instance as %v", b, a)
		}

		ensure(b.Set("n", 1))
		deepEqual(t, must(a.Get("n")), any(1))

		// a record written directly also resolves to the live instance
		ensure(s.Set("elsewhere", []any{a}))
		list := must(s.Get("elsewhere")).([]any)
		if list[0] != any(a) {
			t.Errorf("elsewhere[0] = %v, wanted %v", list[0], a)
		}
	})
}

func TestObject_autoCreateIsIdempotent(t *testing.T) {
	forEachStore(t, func(t *testing.T, s *Store) {
		root := must(s.Object("root"))
		deepEqual(t, must(root.Has("x")), false)

		x1 := must(root.Object("x"))
		deepEqual(t, must(root.Has("x")), true)
		deepEqual(t, must(s.Has(x1.Key())), true)
		x2 := must(root.Object("x"))
		if x1 != x2 {
			t.Errorf("second read created %v, wanted %v", x2, x1)
		}
		deepEqual(t, must(root.Keys()), []any{"x"})
	})
}

func TestObject_deleteThenRecreate(t *testing.T) {
	forEachStore(t, func(t *testing.T, s *Store) {
		root := must(s.Object("root"))
		c1 := must(root.Object("c"))
		ensure(root.Delete("c"))
		deepEqual(t, must(root.Has("c")), false)
		isErr(t, root.Delete("c"), ErrNotFound)

		c2 := must(root.Object("c"))
		if c2 == c1 || c2.Key() == c1.Key() {
			t.Errorf("after delete got %v again, wanted a new object", c2)
		}

		ensure(root.Set("n", 5))
		ensure(root.Delete("n"))
		deepEqual(t, must(root.Keys()), []any{"c"})
	})
}

func TestObject_locals(t *testing.T) {
	forEachStore(t, func(t *testing.T, s *Store) {
		root := must(s.Object("root"))

		deepEqual(t, must(root.Get("_key")), any("root"))
		if v := must(root.Get("_store")); v != any(s) {
			t.Errorf("_store = %v, wanted the store", v)
		}
		isErr(t, root.Set("_key", "other"), ErrReadOnlyAttr)
		isErr(t, root.Set("_store", nil), ErrReadOnlyAttr)
		isErr(t, root.Delete("_key"), ErrReadOnlyAttr)

		_, err := root.Get("_tmp")
		isErr(t, err, ErrAttrNotFound)
		deepEqual(t, must(root.Has("_tmp")), false)

		ensure(root.Set("_tmp", 5))
		deepEqual(t, must(root.Get("_tmp")), any(5))
		deepEqual(t, must(root.Has("_tmp")), true)
		deepEqual(t, must(root.Keys()), []any(nil))

		ensure(root.Delete("_tmp"))
		isErr(t, root.Delete("_tmp"), ErrAttrNotFound)

		// locals belong to the instance
		other := must(s.Object("other"))
		ensure(other.Set("_tmp", 1))
		_, err = root.Get("_tmp")
		isErr(t, err, ErrAttrNotFound)
	})
}

func TestObject_invalidNames(t *testing.T) {
	s := setupMem(t, Options{})
	root := must(s.Object("root"))

	for _, name := range []any{1.5, nil, []byte("x"), (*Object)(nil), Ref{}, uint64(1 << 63)} {
		_, err := root.Get(name)
		isErr(t, err, ErrInvalidAttrName)
		isErr(t, root.Set(name, 1), ErrInvalidAttrName)
	}
	deepEqual(t, must(root.Keys()), []any(nil))
}

func TestObject_nameOrder(t *testing.T) {
	forEachStore(t, func(t *testing.T, s *Store) {
		root := must(s.Object("root"))
		obj := must(s.Object("obj"))

		for _, name := range []any{obj, 10, "b", -3, "a", int64(2), "", "a\x00b", uint8(0)} {
			ensure(root.Set(name, fmt.Sprint(name)))
		}
		deepEqual(t, must(root.Keys()), []any{"", "a", "a\x00b", "b", -3, 0, 2, 10, any(obj)})
		deepEqual(t, must(root.Get(obj)), any(obj.String()))
		deepEqual(t, must(root.Get(int8(-3))), any("-3"))
	})
}

func TestObject_prefixKeysDoNotLeak(t *testing.T) {
	forEachStore(t, func(t *testing.T, s *Store) {
		a := must(s.Object("a"))
		ab := must(s.Object("ab"))
		ensure(a.Set("x", 1))
		ensure(ab.Set("y", 2))
		child := must(a.Object("child"))
		ensure(child.Set("z", 3))

		deepEqual(t, must(a.Keys()), []any{"child", "x"})
		deepEqual(t, must(ab.Keys()), []any{"y"})
		deepEqual(t, must(child.Keys()), []any{"z"})
	})
}

func TestObject_itemsAndValues(t *testing.T) {
	forEachStore(t, func(t *testing.T, s *Store) {
		root := must(s.Object("root"))
		ensure(root.Set("a", 1))
		ensure(root.Set("b", "two"))
		ensure(root.Set(3, []any{3}))

		c := root.Attrs()
		var names, values []any
		for name, value := range c.Items() {
			names = append(names, name)
			values = append(values, value)
		}
		ensure(c.Err())
		deepEqual(t, names, []any{"a", "b", 3})
		deepEqual(t, values, []any{1, "two", []any{3}})
		deepEqual(t, must(root.Values()), []any{1, "two", []any{3}})

		c = root.Attrs()
		var first []any
		for name := range c.Names() {
			first = append(first, name)
			break
		}
		deepEqual(t, first, []any{"a"})
	})
}

func TestObject_writeWhileIterating(t *testing.T) {
	forEachStore(t, func(t *testing.T, s *Store) {
		root := must(s.Object("root"))
		const n = 600
		for i := range n {
			ensure(root.Set(i, i))
		}

		var seen int
		c := root.Attrs()
		for c.Next() {
			i := c.Name().(int)
			if i != seen {
				t.Fatalf("got attribute %d, wanted %d", i, seen)
			}
			seen++
			ensure(root.Set(i, -i))
			if i%100 == 0 {
				child := must(root.Object(fmt.Sprintf("child%d", i)))
				ensure(child.Set("i", i))
			}
		}
		ensure(c.Err())
		deepEqual(t, seen, n)
		deepEqual(t, must(root.Get(599)), any(-599))
	})
}

func TestObject_legacyNames(t *testing.T) {
	forEachStore(t, func(t *testing.T, s *Store) {
		root := must(s.Object("root"))
		obj := must(s.Object("obj"))
		legacy := map[string]any{
			"'count'":                "c",
			"333":                    "n",
			"Persistent(_key='obj')": "o",
		}
		for name, v := range legacy {
			ensure(s.Engine().Put([]byte("root\x00"+name), must(MsgPack.Encode(v))))
		}

		c := root.Attrs()
		got := make(map[any]any)
		for name, value := range c.Items() {
			got[name] = value
		}
		ensure(c.Err())
		deepEqual(t, got, map[any]any{"count": "c", 333: "n", obj: "o"})
	})
}

func TestObject_legacyNamesByName(t *testing.T) {
	forEachStore(t, func(t *testing.T, s *Store) {
		root := must(s.Object("root"))
		obj := must(s.Object("obj"))
		for name, v := range map[string]any{
			"'count'":                "c",
			"333":                    "n",
			"Persistent(_key='obj')": "o",
		} {
			ensure(s.Engine().Put([]byte("root\x00"+name), must(MsgPack.Encode(v))))
		}

		deepEqual(t, must(root.Get("count")), any("c"))
		deepEqual(t, must(root.Get(int64(333))), any("n"))
		deepEqual(t, must(root.Get(obj)), any("o"))
		deepEqual(t, must(root.Has("count")), true)
		deepEqual(t, must(root.Has("other")), false)

		ensure(root.Set("count", "updated"))
		deepEqual(t, must(root.Get("count")), any("updated"))
		ensure(root.Delete(333))
		deepEqual(t, must(root.Has(333)), false)
		deepEqual(t, must(s.Engine().Has([]byte("root\x00333"))), false)

		// a brand-new name is stored in the tagged form
		ensure(root.Set("fresh", 1))
		deepEqual(t, must(s.Has(must(attrKey("root", "fresh")))), true)

		keys := must(root.Keys())
		deepEqual(t, len(keys), 3)
		deepEqual(t, keys[0], any("fresh"))
		got := map[any]bool{keys[1]: true, keys[2]: true}
		deepEqual(t, got, map[any]bool{"count": true, obj: true})
	})
}

func TestObject_bulk(t *testing.T) {
	n := 100000
	if testing.Short() {
		n = 5000
	}
	s := setup(t, Options{})
	root := must(s.Object("root"))
	for i := range n {
		ensure(root.Set(i, i*2))
	}
	for i := range n {
		if v := must(root.Get(i)); v != any(i*2) {
			t.Fatalf("root[%d] = %v, wanted %d", i, v, i*2)
		}
	}

	keys := must(root.Keys())
	if len(keys) != n {
		t.Fatalf("got %d keys, wanted %d", len(keys), n)
	}
	for i, k := range keys {
		if k != any(i) {
			t.Fatalf("keys[%d] = %v, wanted %d", i, k, i)
		}
	}
	deepEqual(t, s.LiveObjects(), 1)
}

func TestObject_identityMapReleasesObjects(t *testing.T) {
	s := setupMem(t, Options{})
	root := must(s.Object("root"))

	const n = 1000
	keys := touchChildren(root, n)
	runtime.GC()
	runtime.GC()

	if live := s.LiveObjects(); live > 10 {
		t.Fatalf("LiveObjects = %d after GC, wanted the children released", live)
	}

	// released objects come back with the same identity
	for i := range 10 {
		child := must(root.Object(i))
		deepEqual(t, child.Key(), keys[i])
		if again := must(root.Object(i)); again != child {
			t.Errorf("child %d resolved to two instances", i)
		}
	}
	runtime.KeepAlive(root)
}

//go:noinline
func touchChildren(root *Object, n int) []string {
	keys := make([]string, n)
	for i := range n {
		keys[i] = must(root.Object(i)).Key()
	}
	return keys
}
