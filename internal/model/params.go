package model

type KV struct {
	Key   string
	Value string
}

// Params is an insertion-ordered parameter list. Set overwrites in place, so a
// fully constructed Params never holds a duplicate key; raw parser output may
// still carry repeats until it is folded through Set.
type Params []KV

func (p Params) Get(key string) (string, bool) {
	for _, kv := range p {
		if kv.Key == key {
			return kv.Value, true
		}
	}
	return "", false
}

func (p *Params) Set(key, value string) {
	for i := range *p {
		if (*p)[i].Key == key {
			(*p)[i].Value = value
			return
		}
	}
	*p = append(*p, KV{Key: key, Value: value})
}
