package discovery

import "htr/internal/domain"

// Discoverer combines a Scanner and a Parser
type Discoverer struct {
	scanner *Scanner
	parser  *Parser
}

// NewDiscoverer creates a Discoverer
func NewDiscoverer(scanner *Scanner, parser *Parser) *Discoverer {
	return &Discoverer{scanner: scanner, parser: parser}
}

// Discover returns the assemblies described by every manifest under root
func (d *Discoverer) Discover(root string) ([]*domain.Assembly, error) {
	manifests, err := d.scanner.Scan(root)
	if err != nil {
		return nil, err
	}

	assemblies := make([]*domain.Assembly, 0, len(manifests))
	for _, m := range manifests {
		asm, err := d.parser.ParseManifest(m)
		if err != nil {
			return nil, err
		}
		assemblies = append(assemblies, asm)
	}
	return assemblies, nil
}
