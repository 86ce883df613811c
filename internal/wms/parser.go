package wms

import (
	"encoding/xml"
	"fmt"
	"strings"

	"github.com/cespare/xxhash/v2"
)

const defaultVersion = "1.3.0"

// xml document shapes; field matching in encoding/xml only descends into
// direct children, which is exactly the "direct child element" semantics the
// layer walk needs.
type capabilitiesDoc struct {
	XMLName    xml.Name
	Version    string         `xml:"version,attr"`
	Service    serviceSection `xml:"Service"`
	Capability capability     `xml:"Capability"`
}

type serviceSection struct {
	Title    string   `xml:"Title"`
	Abstract string   `xml:"Abstract"`
	Keywords []string `xml:"KeywordList>Keyword"`
}

type capability struct {
	Request requestSection `xml:"Request"`
	Layer   *layerNode     `xml:"Layer"`
}

type requestSection struct {
	GetMap getMapSection `xml:"GetMap"`
}

type getMapSection struct {
	Formats  []string  `xml:"Format"`
	DCPTypes []dcpType `xml:"DCPType"`
}

type dcpType struct {
	Get onlineResource `xml:"HTTP>Get>OnlineResource"`
}

type onlineResource struct {
	Href string `xml:"href,attr"`
}

type layerNode struct {
	Queryable   string          `xml:"queryable,attr"`
	Name        string          `xml:"Name"`
	Title       string          `xml:"Title"`
	Abstract    string          `xml:"Abstract"`
	Keywords    []string        `xml:"KeywordList>Keyword"`
	CRS         []string        `xml:"CRS"`
	SRS         []string        `xml:"SRS"`
	Styles      []styleNode     `xml:"Style"`
	BBoxes      []bboxNode      `xml:"BoundingBox"`
	LatLonBBox  *bboxNode       `xml:"LatLonBoundingBox"`
	ExGeoBBox   *exGeographic   `xml:"EX_GeographicBoundingBox"`
	Dimensions  []dimensionNode `xml:"Dimension"`
	Children    []layerNode     `xml:"Layer"`
}

type styleNode struct {
	Name     string         `xml:"Name"`
	Title    string         `xml:"Title"`
	Abstract string         `xml:"Abstract"`
	Legend   onlineResource `xml:"LegendURL>OnlineResource"`
}

type bboxNode struct {
	CRS  string  `xml:"CRS,attr"`
	SRS  string  `xml:"SRS,attr"`
	MinX float64 `xml:"minx,attr"`
	MinY float64 `xml:"miny,attr"`
	MaxX float64 `xml:"maxx,attr"`
	MaxY float64 `xml:"maxy,attr"`
}

type exGeographic struct {
	West  float64 `xml:"westBoundLongitude"`
	East  float64 `xml:"eastBoundLongitude"`
	South float64 `xml:"southBoundLatitude"`
	North float64 `xml:"northBoundLatitude"`
}

type dimensionNode struct {
	Name    string `xml:"name,attr"`
	Units   string `xml:"units,attr"`
	Default string `xml:"default,attr"`
	Values  string `xml:",chardata"`
}

// Parse turns a GetCapabilities XML payload into a Validation. Parse never
// returns an error: malformed XML and non-WMS documents are reported through
// Validation.Errors.
func Parse(xmlText []byte, baseURL string) Validation {
	v := Validation{Errors: []string{}, Warnings: []string{}}

	if len(strings.TrimSpace(string(xmlText))) == 0 {
		v.Errors = append(v.Errors, "empty capabilities response")
		return v
	}

	var doc capabilitiesDoc
	if err := xml.Unmarshal(xmlText, &doc); err != nil {
		v.Errors = append(v.Errors, fmt.Sprintf("invalid XML: %v", err))
		return v
	}

	if doc.XMLName.Local != "WMS_Capabilities" && doc.XMLName.Local != "WMT_MS_Capabilities" {
		v.Errors = append(v.Errors,
			fmt.Sprintf("document is not a WMS GetCapabilities response (root element %q)", doc.XMLName.Local))
		return v
	}

	caps := extractCapabilities(&doc, baseURL)
	if len(caps.Layers) == 0 {
		v.Warnings = append(v.Warnings, "no layers found in this service")
	}

	v.Valid = true
	v.Capabilities = caps
	return v
}

func extractCapabilities(doc *capabilitiesDoc, baseURL string) *Capabilities {
	caps := &Capabilities{
		Version:          defaultVersion,
		ServiceTitle:     "WMS Service",
		ServiceKeywords:  []string{},
		Layers:           []LayerInfo{},
		GetMapURL:        baseURL,
		SupportedFormats: []string{},
		SupportedCRS:     []string{},
	}

	if doc.Version != "" {
		caps.Version = doc.Version
	}
	if t := strings.TrimSpace(doc.Service.Title); t != "" {
		caps.ServiceTitle = t
	}
	caps.ServiceAbstract = strings.TrimSpace(doc.Service.Abstract)
	caps.ServiceKeywords = trimNonEmpty(doc.Service.Keywords)

	for _, dcp := range doc.Capability.Request.GetMap.DCPTypes {
		if href := strings.TrimSpace(dcp.Get.Href); href != "" {
			caps.GetMapURL = href
			break
		}
	}
	caps.SupportedFormats = trimNonEmpty(doc.Capability.Request.GetMap.Formats)

	root := doc.Capability.Layer
	if root == nil {
		return caps
	}

	caps.SupportedCRS = crsSet(nil, root)

	// Both projections come from the same walk, toggled on whether container
	// nodes are emitted, so the hierarchy is always the flat list plus the
	// containers.
	caps.Layers = walkLayers(root, nil, false)
	caps.LayersWithHierarchy = walkLayers(root, nil, true)
	return caps
}

// walkLayers walks the root <Layer> subtree depth first. The root node itself
// follows container rules: a node with a non-empty direct <Name> is emitted
// as a renderable leaf and not walked into; a node without one is a
// container, walked into, and emitted only when emitContainers is set.
func walkLayers(root *layerNode, ancestorCRS []string, emitContainers bool) []LayerInfo {
	out := []LayerInfo{}
	seen := map[string]struct{}{}
	var containerSeq int
	walkLayer(root, ancestorCRS, emitContainers, &out, seen, &containerSeq)
	return out
}

func walkLayer(node *layerNode, ancestorCRS []string, emitContainers bool, out *[]LayerInfo, seen map[string]struct{}, containerSeq *int) {
	name := strings.TrimSpace(node.Name)
	inherited := crsSet(ancestorCRS, node)

	if name != "" {
		if _, dup := seen[name]; dup {
			return
		}
		seen[name] = struct{}{}
		*out = append(*out, renderableLayer(node, name, inherited))
		return
	}

	if emitContainers {
		*containerSeq++
		*out = append(*out, containerLayer(node, inherited, *containerSeq))
	}
	for i := range node.Children {
		walkLayer(&node.Children[i], inherited, emitContainers, out, seen, containerSeq)
	}
}

func renderableLayer(node *layerNode, name string, crs []string) LayerInfo {
	title := strings.TrimSpace(node.Title)
	if title == "" {
		title = name
	}
	return LayerInfo{
		Name:         name,
		Title:        title,
		Abstract:     strings.TrimSpace(node.Abstract),
		Keywords:     trimNonEmpty(node.Keywords),
		BoundingBox:  extractBoundingBox(node),
		SupportedCRS: crs,
		Styles:       extractStyles(node),
		Queryable:    node.Queryable == "1",
		Dimensions:   extractDimensions(node),
	}
}

func containerLayer(node *layerNode, crs []string, seq int) LayerInfo {
	title := strings.TrimSpace(node.Title)
	if title == "" {
		title = "Layer group"
	}
	return LayerInfo{
		Name:         containerName(title, seq),
		Title:        title,
		Abstract:     strings.TrimSpace(node.Abstract),
		Keywords:     trimNonEmpty(node.Keywords),
		BoundingBox:  extractBoundingBox(node),
		SupportedCRS: crs,
		Styles:       []Style{},
		Queryable:    false,
		Container:    true,
	}
}

// ContainerPrefix marks synthesized container identifiers so they can never
// collide with, or be mistaken for, a renderable layer name.
const ContainerPrefix = "container_"

func containerName(title string, seq int) string {
	h := xxhash.Sum64String(fmt.Sprintf("%s/%d", title, seq))
	return fmt.Sprintf("%s%016x", ContainerPrefix, h)
}

// crsSet unions the CRS/SRS declarations of the node with those inherited
// from its ancestors, preserving first-seen order.
func crsSet(ancestor []string, node *layerNode) []string {
	out := make([]string, 0, len(ancestor)+len(node.CRS)+len(node.SRS))
	seen := map[string]struct{}{}
	add := func(vals []string) {
		for _, c := range vals {
			c = strings.TrimSpace(c)
			if c == "" {
				continue
			}
			if _, ok := seen[c]; ok {
				continue
			}
			seen[c] = struct{}{}
			out = append(out, c)
		}
	}
	add(ancestor)
	add(node.CRS)
	add(node.SRS)
	return out
}

func extractStyles(node *layerNode) []Style {
	styles := make([]Style, 0, len(node.Styles))
	for _, s := range node.Styles {
		name := strings.TrimSpace(s.Name)
		if name == "" {
			name = "default"
		}
		title := strings.TrimSpace(s.Title)
		if title == "" {
			title = name
		}
		styles = append(styles, Style{
			Name:      name,
			Title:     title,
			Abstract:  strings.TrimSpace(s.Abstract),
			LegendURL: strings.TrimSpace(s.Legend.Href),
		})
	}
	return styles
}

// extractBoundingBox prefers an explicit EPSG:4326 BoundingBox, then the
// first BoundingBox, then LatLonBoundingBox, then EX_GeographicBoundingBox
// (WMS 1.3.0, implicitly EPSG:4326).
func extractBoundingBox(node *layerNode) *BoundingBox {
	for _, bb := range node.BBoxes {
		if bb.CRS == "EPSG:4326" || bb.SRS == "EPSG:4326" {
			return boxFromNode(bb)
		}
	}
	if len(node.BBoxes) > 0 {
		return boxFromNode(node.BBoxes[0])
	}
	if node.LatLonBBox != nil {
		return boxFromNode(*node.LatLonBBox)
	}
	if g := node.ExGeoBBox; g != nil {
		return &BoundingBox{
			MinX: g.West,
			MinY: g.South,
			MaxX: g.East,
			MaxY: g.North,
			CRS:  "EPSG:4326",
		}
	}
	return nil
}

func boxFromNode(bb bboxNode) *BoundingBox {
	crs := bb.CRS
	if crs == "" {
		crs = bb.SRS
	}
	if crs == "" {
		crs = "EPSG:4326"
	}
	return &BoundingBox{MinX: bb.MinX, MinY: bb.MinY, MaxX: bb.MaxX, MaxY: bb.MaxY, CRS: crs}
}

func extractDimensions(node *layerNode) []Dimension {
	if len(node.Dimensions) == 0 {
		return nil
	}
	dims := make([]Dimension, 0, len(node.Dimensions))
	for _, d := range node.Dimensions {
		if d.Name == "" {
			continue
		}
		dims = append(dims, Dimension{
			Name:    d.Name,
			Units:   d.Units,
			Values:  strings.TrimSpace(d.Values),
			Default: d.Default,
		})
	}
	return dims
}

func trimNonEmpty(in []string) []string {
	out := []string{}
	for _, s := range in {
		if t := strings.TrimSpace(s); t != "" {
			out = append(out, t)
		}
	}
	return out
}
