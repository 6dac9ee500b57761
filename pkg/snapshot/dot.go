package snapshot

import (
	"fmt"
	"io"
	"strings"

	"github.com/arzzra/media_telemetry/pkg/pipeline"
	"github.com/emicklei/dot"
)

// Details набор флагов детализации графа
type Details uint8

const (
	// DetailStates добавляет состояние элемента в подпись узла
	DetailStates Details = 1 << iota
	// DetailProperties добавляет свойства элемента в подпись узла
	DetailProperties

	DetailNone Details = 0
	DetailAll          = DetailStates | DetailProperties
)

// Topology корневой контейнер, граф которого экспортируется.
// *pipeline.Pipeline удовлетворяет этому интерфейсу.
type Topology = pipeline.Container

// WriteDOT записывает описание графа root на языке DOT.
// Вложенные контейнеры выводятся как кластеры, связи между элементами как ребра.
// Идентификаторы узлов генерируются, имена элементов попадают только в подписи.
func WriteDOT(w io.Writer, root Topology, details Details) error {
	g := dot.NewGraph(dot.Directed)
	g.Attr("rankdir", "LR")
	g.Attr("fontname", "sans")
	g.Attr("fontsize", "10")
	g.Attr("labelloc", "t")
	g.Attr("nodesep", ".1")
	g.Attr("ranksep", ".2")

	b := &dotBuilder{
		nodes:   make(map[pipeline.Element]dot.Node),
		details: details,
	}
	g.Attr("label", b.label(root))
	b.container(g, root)

	_, err := io.WriteString(w, g.String())
	return err
}

type dotBuilder struct {
	nodes   map[pipeline.Element]dot.Node
	next    int
	details Details
}

func (b *dotBuilder) key() string {
	key := fmt.Sprintf("e%d", b.next)
	b.next++
	return key
}

func (b *dotBuilder) container(g *dot.Graph, c pipeline.Container) {
	for _, child := range c.Children() {
		if nested, ok := child.(pipeline.Container); ok {
			sub := g.Subgraph(b.key(), dot.ClusterOption{})
			sub.Attr("label", b.label(nested))
			sub.Attr("style", "filled,rounded")
			sub.Attr("color", "black")
			sub.Attr("fillcolor", "#ffffff")

			// пустой кластер graphviz не рисует, ребра к контейнеру идут в якорь
			anchor := sub.Node(b.key())
			anchor.Attr("label", "")
			anchor.Attr("style", "invis")
			anchor.Attr("width", "0")
			anchor.Attr("height", "0")
			b.nodes[nested] = anchor

			b.container(sub, nested)
			continue
		}

		n := g.Node(b.key())
		n.Label(b.label(child))
		n.Attr("shape", "box")
		n.Attr("style", "filled,rounded")
		n.Attr("fontsize", "9")
		n.Attr("fontname", "sans")
		n.Attr("fillcolor", fillColor(child))
		b.nodes[child] = n
	}

	for _, link := range c.Links() {
		src, ok := b.nodes[link.Src]
		if !ok {
			continue
		}
		dst, ok := b.nodes[link.Dst]
		if !ok {
			continue
		}
		g.Edge(src, dst)
	}
}

func (b *dotBuilder) label(e pipeline.Element) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s\n%s", e.Factory(), e.Name())

	if b.details&DetailStates != 0 {
		fmt.Fprintf(&sb, "\n[%s]", e.State())
	}
	if b.details&DetailProperties != 0 {
		props := e.Properties()
		for _, key := range pipeline.PropertyKeys(e) {
			fmt.Fprintf(&sb, "\n%s=%s", key, props[key])
		}
	}
	return sb.String()
}

func fillColor(e pipeline.Element) string {
	switch {
	case strings.HasSuffix(e.Factory(), "src"):
		return "#ffaaaa"
	case strings.HasSuffix(e.Factory(), "sink"):
		return "#aaaaff"
	default:
		return "#aaffaa"
	}
}

// SanitizeLabel приводит метку к имени файла снимка: остаются только
// [A-Za-z0-9_-], прочие символы заменяются на '_'. Пустая метка становится "snapshot".
func SanitizeLabel(label string) string {
	if label == "" {
		return "snapshot"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			return r
		default:
			return '_'
		}
	}, label)
}
