package config

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/harborline/procurer/order"
	"github.com/harborline/procurer/quartermaster"
	"github.com/harborline/procurer/requisition"
	"github.com/harborline/procurer/supplychain"
)

// catalogFile is the raw YAML shape of a catalog. References between
// sections are by id and resolved at load time.
type catalogFile struct {
	Suppliers      []supplierEntry      `yaml:"suppliers"`
	Requisitions   []requisitionEntry   `yaml:"requisitions"`
	Passports      []passportEntry      `yaml:"passports"`
	Visas          []visaEntry          `yaml:"visas"`
	Quartermasters []quartermasterEntry `yaml:"quartermasters"`
	Chains         []chainEntry         `yaml:"chains"`
	Procurements   []procurementEntry   `yaml:"procurements"`
}

type supplierEntry struct {
	Name    string `yaml:"name"`
	Enabled bool   `yaml:"enabled"`
}

type parameterEntry struct {
	Name     string        `yaml:"name"`
	Type     string        `yaml:"type"`
	Default  string        `yaml:"default"`
	Required bool          `yaml:"required"`
	HelpText string        `yaml:"help_text"`
	Choices  []choiceEntry `yaml:"choices"`
}

type choiceEntry struct {
	Value string `yaml:"value"`
	Label string `yaml:"label"`
}

type requisitionEntry struct {
	ID           string           `yaml:"id"`
	Supplier     string           `yaml:"supplier"`
	APIClass     string           `yaml:"api_class"`
	URL          string           `yaml:"url"`
	VisaRequired bool             `yaml:"visa_required"`
	Parameters   []parameterEntry `yaml:"parameters"`
}

type passportEntry struct {
	ID     string   `yaml:"id"`
	Name   string   `yaml:"name"`
	Public bool     `yaml:"public"`
	Users  []string `yaml:"users"`
	// Key supports ${ENV_VAR} expansion so secrets stay out of the file
	Key string `yaml:"key"`
}

type visaEntry struct {
	ID              string `yaml:"id"`
	CallsAllowed    int    `yaml:"calls_allowed"`
	IntervalSeconds int    `yaml:"interval_seconds"`
}

type quartermasterEntry struct {
	ID        string   `yaml:"id"`
	Passport  string   `yaml:"passport"`
	Visa      string   `yaml:"visa"`
	Endpoints []string `yaml:"endpoints"`
}

type couplingEntry struct {
	Field     string `yaml:"field"`
	Parameter string `yaml:"parameter"`
}

type linkEntry struct {
	ID          string          `yaml:"id"`
	Name        string          `yaml:"name"`
	Requisition string          `yaml:"requisition"`
	Position    int             `yaml:"position"`
	WaitTime    int             `yaml:"wait_time"`
	Unit        string          `yaml:"unit"`
	Couplings   []couplingEntry `yaml:"couplings"`
}

type chainEntry struct {
	ID    string      `yaml:"id"`
	Name  string      `yaml:"name"`
	Links []linkEntry `yaml:"links"`
}

type procurementEntry struct {
	ID    string `yaml:"id"`
	Name  string `yaml:"name"`
	Chain string `yaml:"chain"`
}

var _ order.Catalog = (*Catalog)(nil)

// Catalog holds the resolved procurement configuration: suppliers,
// requisitions, credentials, chains and procurements, indexed by id.
// A Catalog is immutable after load.
type Catalog struct {
	suppliers      map[string]*requisition.Supplier
	requisitions   map[string]*requisition.Requisition
	quartermasters []*quartermaster.Quartermaster
	chains         map[string]*supplychain.SupplyChain
	procurements   map[string]*order.Procurement
}

// LoadCatalog reads and resolves a YAML catalog. ${VAR} references in
// passport keys are expanded from the environment before parsing.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog file: %w", err)
	}
	return ParseCatalog(data)
}

// ParseCatalog resolves a YAML catalog from raw bytes.
func ParseCatalog(data []byte) (*Catalog, error) {
	expanded := os.Expand(string(data), func(name string) string {
		return os.Getenv(name)
	})

	var file catalogFile
	if err := yaml.Unmarshal([]byte(expanded), &file); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}

	c := &Catalog{
		suppliers:    make(map[string]*requisition.Supplier),
		requisitions: make(map[string]*requisition.Requisition),
		chains:       make(map[string]*supplychain.SupplyChain),
		procurements: make(map[string]*order.Procurement),
	}

	for _, s := range file.Suppliers {
		if s.Name == "" {
			return nil, fmt.Errorf("supplier with empty name")
		}
		if _, exists := c.suppliers[s.Name]; exists {
			return nil, fmt.Errorf("duplicate supplier %s", s.Name)
		}
		c.suppliers[s.Name] = &requisition.Supplier{Name: s.Name, Enabled: s.Enabled}
	}

	for _, r := range file.Requisitions {
		req, err := buildRequisition(r)
		if err != nil {
			return nil, err
		}
		if _, exists := c.requisitions[req.ID]; exists {
			return nil, fmt.Errorf("duplicate requisition %s", req.ID)
		}
		if _, exists := c.suppliers[req.Supplier]; !exists {
			return nil, fmt.Errorf("requisition %s: unknown supplier %s", req.ID, req.Supplier)
		}
		c.requisitions[req.ID] = req
	}

	passports := make(map[string]*quartermaster.Passport)
	for _, p := range file.Passports {
		if _, exists := passports[p.ID]; exists {
			return nil, fmt.Errorf("duplicate passport %s", p.ID)
		}
		users := make(map[string]bool, len(p.Users))
		for _, u := range p.Users {
			users[u] = true
		}
		passports[p.ID] = &quartermaster.Passport{
			ID:     p.ID,
			Name:   p.Name,
			Public: p.Public,
			Users:  users,
			Key:    p.Key,
		}
	}

	visas := make(map[string]*quartermaster.Visa)
	for _, v := range file.Visas {
		if _, exists := visas[v.ID]; exists {
			return nil, fmt.Errorf("duplicate visa %s", v.ID)
		}
		if v.CallsAllowed < 1 || v.IntervalSeconds < 1 {
			return nil, fmt.Errorf("visa %s: calls_allowed and interval_seconds must be positive", v.ID)
		}
		visas[v.ID] = &quartermaster.Visa{
			ID:              v.ID,
			CallsAllowed:    v.CallsAllowed,
			IntervalSeconds: v.IntervalSeconds,
		}
	}

	endpointKeys := make(map[string]bool, len(c.requisitions))
	for _, req := range c.requisitions {
		endpointKeys[req.Key()] = true
	}

	for _, q := range file.Quartermasters {
		passport, ok := passports[q.Passport]
		if !ok {
			return nil, fmt.Errorf("quartermaster %s: unknown passport %s", q.ID, q.Passport)
		}
		var visa *quartermaster.Visa
		if q.Visa != "" {
			visa, ok = visas[q.Visa]
			if !ok {
				return nil, fmt.Errorf("quartermaster %s: unknown visa %s", q.ID, q.Visa)
			}
		}
		endpoints := make(map[string]bool, len(q.Endpoints))
		for _, e := range q.Endpoints {
			if !endpointKeys[e] {
				return nil, fmt.Errorf("quartermaster %s: no requisition for endpoint %s", q.ID, e)
			}
			endpoints[e] = true
		}
		c.quartermasters = append(c.quartermasters, &quartermaster.Quartermaster{
			ID:        q.ID,
			Passport:  passport,
			Visa:      visa,
			Endpoints: endpoints,
		})
	}
	sort.Slice(c.quartermasters, func(i, j int) bool {
		return c.quartermasters[i].ID < c.quartermasters[j].ID
	})

	for _, ch := range file.Chains {
		chain, err := c.buildChain(ch)
		if err != nil {
			return nil, err
		}
		if _, exists := c.chains[chain.ID]; exists {
			return nil, fmt.Errorf("duplicate chain %s", chain.ID)
		}
		c.chains[chain.ID] = chain
	}

	for _, p := range file.Procurements {
		chain, ok := c.chains[p.Chain]
		if !ok {
			return nil, fmt.Errorf("procurement %s: unknown chain %s", p.ID, p.Chain)
		}
		if _, exists := c.procurements[p.ID]; exists {
			return nil, fmt.Errorf("duplicate procurement %s", p.ID)
		}
		c.procurements[p.ID] = &order.Procurement{ID: p.ID, Name: p.Name, Chain: chain}
	}

	return c, nil
}

func buildRequisition(entry requisitionEntry) (*requisition.Requisition, error) {
	if entry.ID == "" {
		return nil, fmt.Errorf("requisition with empty id")
	}
	if entry.Supplier == "" || entry.APIClass == "" {
		return nil, fmt.Errorf("requisition %s: supplier and api_class are required", entry.ID)
	}

	req := &requisition.Requisition{
		ID:           entry.ID,
		Supplier:     entry.Supplier,
		APIClass:     entry.APIClass,
		URL:          entry.URL,
		VisaRequired: entry.VisaRequired,
	}
	for _, p := range entry.Parameters {
		paramType, err := requisition.ParseParamType(p.Type)
		if err != nil {
			return nil, fmt.Errorf("requisition %s: %w", entry.ID, err)
		}
		spec := &requisition.ParameterSpec{
			Name:     p.Name,
			Type:     paramType,
			Default:  p.Default,
			Required: p.Required,
			HelpText: p.HelpText,
		}
		for _, ch := range p.Choices {
			spec.Choices = append(spec.Choices, requisition.Choice{Value: ch.Value, Label: ch.Label})
		}
		if err := spec.CheckDefault(); err != nil {
			return nil, fmt.Errorf("requisition %s: %w", entry.ID, err)
		}
		req.Parameters = append(req.Parameters, spec)
	}
	return req, nil
}

func (c *Catalog) buildChain(entry chainEntry) (*supplychain.SupplyChain, error) {
	if entry.ID == "" {
		return nil, fmt.Errorf("chain with empty id")
	}

	chain := &supplychain.SupplyChain{ID: entry.ID, Name: entry.Name}
	for _, l := range entry.Links {
		req, ok := c.requisitions[l.Requisition]
		if !ok {
			return nil, fmt.Errorf("chain %s: unknown requisition %s", entry.ID, l.Requisition)
		}
		unit, err := supplychain.ParseTimeUnit(l.Unit)
		if err != nil {
			return nil, fmt.Errorf("chain %s: %w", entry.ID, err)
		}
		link := &supplychain.SupplyLink{
			ID:          l.ID,
			Name:        l.Name,
			Requisition: req,
			Position:    l.Position,
			WaitTime:    l.WaitTime,
			Unit:        unit,
		}
		for _, cp := range l.Couplings {
			param := req.Parameter(cp.Parameter)
			if param == nil {
				return nil, fmt.Errorf("chain %s: link %s couples unknown parameter %s", entry.ID, l.ID, cp.Parameter)
			}
			link.Couplings = append(link.Couplings, &supplychain.FieldCoupling{
				FieldName: cp.Field,
				Parameter: param,
			})
		}
		chain.Links = append(chain.Links, link)
	}

	if err := chain.Validate(); err != nil {
		return nil, err
	}
	return chain, nil
}

// Supplier returns the named supplier, or an error.
func (c *Catalog) Supplier(name string) (*requisition.Supplier, error) {
	s, ok := c.suppliers[name]
	if !ok {
		return nil, fmt.Errorf("supplier %s not found", name)
	}
	return s, nil
}

// Requisition returns the requisition with the given id.
func (c *Catalog) Requisition(id string) (*requisition.Requisition, error) {
	r, ok := c.requisitions[id]
	if !ok {
		return nil, fmt.Errorf("requisition %s not found", id)
	}
	return r, nil
}

// Quartermasters returns every configured quartermaster, ordered by id.
func (c *Catalog) Quartermasters() []*quartermaster.Quartermaster {
	return c.quartermasters
}

// Chain returns the supply chain with the given id.
func (c *Catalog) Chain(id string) (*supplychain.SupplyChain, error) {
	ch, ok := c.chains[id]
	if !ok {
		return nil, fmt.Errorf("chain %s not found", id)
	}
	return ch, nil
}

// Procurement returns the procurement with the given id.
func (c *Catalog) Procurement(id string) (*order.Procurement, error) {
	p, ok := c.procurements[id]
	if !ok {
		return nil, fmt.Errorf("procurement %s not found", id)
	}
	return p, nil
}

// Procurements returns every configured procurement, ordered by id.
func (c *Catalog) Procurements() []*order.Procurement {
	procurements := make([]*order.Procurement, 0, len(c.procurements))
	for _, p := range c.procurements {
		procurements = append(procurements, p)
	}
	sort.Slice(procurements, func(i, j int) bool { return procurements[i].ID < procurements[j].ID })
	return procurements
}
