package state

func (p Protocol) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *Protocol) UnmarshalText(text []byte) error {
	proto, err := ParseProtocol(string(text))
	if err != nil {
		return err
	}
	*p = proto
	return nil
}
