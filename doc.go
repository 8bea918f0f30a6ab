/*
Package pers implements a persistent object graph on top of an ordered
key-value store (Bolt by default, or an in-memory engine).

A program obtains a root object from a Store and reads and writes its
attributes like fields. Attribute values are scalars, lists, maps or other
objects; reading an attribute that was never set creates a new object in its
place, so whole trees can be built by just walking them:

	s, err := pers.Open("data.db", pers.Options{})
	root, err := s.Object("root")
	err = root.Set("count", 123)
	child, err := root.Object("child1") // created on first access

# Technical Details

**Keys.**
Every object has a key, either chosen by the caller or a generated UUID. The
object's own record lives under its key and holds a reference to itself. Each
persisted attribute is a separate record under

	objectKey + Sep + encodedName

where Sep is a zero byte and encodedName is a type tag followed by the name:
a string verbatim, an integer as 8 big-endian bytes with the sign bit flipped,
or an object as its key. All attributes of an object therefore form one
contiguous run of keys, with string names first (bytewise), then integer
names (numerically), then object names. Object keys must not contain Sep.

Older keyspaces spelled attribute names as printable literals ('name', 333,
Persistent(_key='...')). Those are still understood when enumerating and
when reading, writing or deleting an attribute by name.

**References.**
An object stored as a value (directly, or inside a list or map) is written as
a reference holding only its key. Reading a reference back yields the live
*Object for that key.

**Identity.**
The store keeps a weak identity map from keys to live objects, so every read
of the same key returns the same *Object while anything still references it.
Unreferenced objects are collected normally and rehydrated on the next read.

**Local attributes.**
Names starting with an underscore are local: they live on the *Object
instance only and are never stored. _key and _store are built in and
read-only.

**Journal.**
If Options.Journal is set, every Set and Delete is also appended to a
checksummed journal (see package journal), which Store.Replay can apply to
another store.
*/
package pers
