package service

import (
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/boddenberg/wa-commerce-bot/internal/domain"
)

// Customer-facing texts. The store sells in Peru, so everything is Spanish
// and prices are in soles.

const (
	textSticker       = "¡Bonito sticker! 😄 ¿En qué puedo ayudarte hoy? Puedo mostrarte nuestros productos o enviarte nuestro catálogo completo."
	textAudio         = "Recibí tu audio. Aún no puedo escucharlos, pero ¡gracias por enviarlo! 🎧 ¿Quieres ver nuestro catálogo o buscar algún producto específico?"
	textImageReceived = "¡Gracias por tu imagen! 📸 ¿Te gustaría ver nuestro catálogo o buscar algún producto en particular?"
	textVideoReceived = "¡Gracias por tu video! 🎥 ¿Te gustaría ver nuestro catálogo o buscar algún producto en particular?"

	textApology       = "Lo siento, tuve un problema técnico. ¿Podrías intentarlo nuevamente?"
	textSearchFailed  = "Lo siento, tuve un problema al buscar productos. ¿Podrías intentarlo nuevamente?"
	textDetailFailed  = "Lo siento, no pude obtener los detalles de este producto en este momento. ¿Quieres ver otros productos?"
	textCatalogFailed = "Lo siento, tuve problemas para enviar el catálogo. Puedes descargarlo directamente desde este enlace: "
)

// ============================================================
// Business profile
// ============================================================

const (
	textMainMenu = "¡Hola! 👋 Soy el asistente de la tienda. ¿En qué puedo ayudarte hoy?\n\n" +
		"1️⃣ - Ver catálogo completo 📚\n" +
		"2️⃣ - Buscar un producto específico 🔍\n" +
		"3️⃣ - Consultar disponibilidad 📦\n" +
		"4️⃣ - Información de envíos 🚚\n" +
		"5️⃣ - Contactar con un vendedor 👨‍💼\n\n" +
		"Puedes elegir una opción escribiendo el número o hacerme cualquier pregunta directamente."

	textAskSearchTerm   = "¡Perfecto! ¿Qué producto estás buscando? Por favor, indícame el nombre o tipo de producto que te interesa."
	textAskAvailability = "Para consultar disponibilidad, necesito saber qué producto te interesa. ¿Podrías indicarme cuál es el producto que buscas?"
	textNewSearch       = "¡Claro! ¿Qué producto te gustaría buscar ahora? Por favor, indícame el nombre o tipo de producto que te interesa."
	textAskOtherProduct = "¡Perfecto! ¿Qué otro producto te gustaría buscar? Por favor, indícame el nombre o tipo de producto."

	textShippingPolicy = "*Información sobre envíos* 🚚\n\n" +
		"Realizamos envíos a nivel nacional:\n\n" +
		"✅ Lima Metropolitana: Entrega en 24-48 horas (S/15)\n" +
		"✅ Provincias: Entrega en 3-5 días hábiles (varía según destino)\n" +
		"✅ Envío gratis: En compras mayores a S/200 en Lima\n\n" +
		"Para coordinar un envío, necesitamos:\n" +
		"- Nombre completo\n" +
		"- Dirección exacta\n" +
		"- Teléfono de contacto\n" +
		"- Referencia del domicilio\n\n" +
		"¿Necesitas cotizar el envío para algún producto específico?"

	textAgentContact = "En breve uno de nuestros vendedores se pondrá en contacto contigo.\n\n" +
		"Mientras tanto, ¿hay algún producto específico que te interese? Puedo mostrarte detalles para que tengas más información."

	textPurchaseContact = "¡Excelente elección! En breve uno de nuestros vendedores se pondrá en contacto para ayudarte con la compra del producto. " +
		"Mientras tanto, ¿hay algo más en lo que pueda ayudarte?"

	textPostProductOptions = "¿Qué te gustaría hacer ahora?\n\n" +
		"1️⃣ Ver más detalles de este producto\n" +
		"2️⃣ Buscar otro producto\n" +
		"3️⃣ Ver catálogo completo\n" +
		"4️⃣ Contactar con un vendedor para comprar\n\n" +
		"Por favor, indica el número de la opción que prefieres o escribe tu consulta."

	textNoCurrentProduct = "Lo siento, parece que no tengo el registro del producto que estabas viendo. ¿Podrías buscar nuevamente?"

	textCatalogIntro   = "¡Excelente! Aquí te comparto nuestro catálogo completo de productos. Puedes revisarlo y si necesitas información sobre algún producto específico, no dudes en preguntarme. 📚"
	catalogFilename    = "Catálogo_Productos.pdf"
	catalogCaption     = "Catálogo completo de productos"
	textNoProductFound = "Parece que estás buscando un producto, pero no logro identificar cuál. ¿Podrías detallar más qué producto estás buscando?"
	textSelectionGone  = "Los resultados de tu búsqueda anterior ya no están disponibles. ¿Qué producto te gustaría buscar?"

	textOffTopic = "Disculpa, solo puedo ayudarte con temas relacionados a nuestros productos y servicios. " +
		"¿Hay algo específico sobre nuestros productos que te gustaría saber? Puedo mostrarte el catálogo o buscar un producto específico para ti."

	businessSystemPrompt = `Eres un asistente virtual amable para una tienda online. Da respuestas breves, amables y claras, enfocadas en el negocio.

Tienes las siguientes funciones principales:
1. Ayudar a buscar productos
2. Informar sobre precios y disponibilidad
3. Compartir catálogos
4. Informar sobre envíos y formas de pago

Tu objetivo es mantener al cliente interesado y eventualmente guiarlo hacia ver productos específicos, solicitar el catálogo o contactar con un vendedor.

No respondas a temas personales o no relacionados con la tienda.

El cliente debe ser guiado a seguir las opciones del menú:
- Ver catálogo completo
- Buscar un producto específico
- Consultar disponibilidad
- Información de envíos
- Contactar con un vendedor`

	extractorSystemPrompt = "Eres un extractor de nombres de producto desde mensajes de clientes."
	noProductAnswer       = "ninguno"

	selectorSystemPrompt = "Eres un clasificador. Respondes únicamente con un número entero o con la palabra \"ninguno\"."
)

func extractPrompt(text string) string {
	return "Extrae solamente el nombre del producto del siguiente mensaje. Devuélvelo sin ninguna palabra adicional. " +
		"Si no hay producto, responde \"ninguno\".\nMensaje: \"" + text + "\""
}

func selectionPrompt(text string, count int) string {
	return fmt.Sprintf("El cliente vio una lista numerada de %d productos y respondió: \"%s\".\n"+
		"Si eligió uno de ellos, responde solo con su número. Si no eligió ninguno, responde \"ninguno\".", count, text)
}

func textNotFound(term string) string {
	return fmt.Sprintf("No encontré productos que coincidan con %q. ¿Podrías intentar con otra búsqueda o ver nuestro catálogo completo?", term)
}

func textInvalidSelection(n int) string {
	return fmt.Sprintf("Por favor selecciona un número válido entre 1 y %d, o busca otro producto.", n)
}

func textResultList(items []domain.SearchItem) string {
	var b strings.Builder
	plural := ""
	if len(items) > 1 {
		plural = "s"
	}
	fmt.Fprintf(&b, "Encontré %d producto%s que coinciden con tu búsqueda:\n\n", len(items), plural)
	for i, it := range items {
		fmt.Fprintf(&b, "%s *%s*\n", keycap(i+1), it.Name)
		fmt.Fprintf(&b, "   💰 Precio: S/ %s\n", money(it.Price))
		fmt.Fprintf(&b, "   📋 Código: %s\n\n", it.Code)
	}
	b.WriteString("Para ver más detalles de un producto, escribe el número correspondiente. O si prefieres, puedes hacer una nueva búsqueda.")
	return b.String()
}

func textProductDetail(p *domain.Product) string {
	var b strings.Builder
	fmt.Fprintf(&b, "*%s*\n\n", p.Name)
	fmt.Fprintf(&b, "💰 *Precio:* S/ %s\n", money(p.Price))
	fmt.Fprintf(&b, "📋 *Código:* %s\n", p.Code)
	if p.SKU != "" {
		fmt.Fprintf(&b, "📋 *Sku:* %s\n", p.SKU)
	}
	b.WriteString("\nSi estás interesado en comprar este producto, puedo contactarte con un vendedor inmediatamente.")
	return b.String()
}

// ============================================================
// Guided profile
// ============================================================

const (
	textGuidedAfterImages = "¿Te gustaría más información o deseas proceder con tu pedido?"
	textGuidedImagesError = "⚠️ Ocurrió un error al cargar las imágenes. ¿Deseas intentarlo de nuevo o prefieres continuar con tu pedido?"

	textGuidedPayment = "Claro, aquí te explico según tu ubicación:\n\n" +
		"📍 *Lima Metropolitana:*\n" +
		"➡️ Pago *contra entrega*. Solo pagas cuando recibes el producto.\n\n" +
		"📍 *Provincia:*\n" +
		"➡️ Solo pedimos un adelanto mínimo de *S/10* 💰\n" +
		"El resto lo pagas al recibirlo en tu ciudad.\n" +
		"✅ Enviamos por *agencias como Shalom* o la que prefieras.\n" +
		"🎥 Puedes pedir fotos, videos o videollamada como prueba del envío.\n\n" +
		"Este método nos ayuda a evitar fraudes de ambas partes 🤝"

	textGuidedShipping = "¡Sí, claro! 🚛 Enviamos a TODO el Perú desde Lima.\n\n" +
		"📦 Por lo general usamos *Shalom*, pero podemos enviar por otra agencia si lo prefieres.\n" +
		"💸 El costo del envío lo cobra directamente la agencia (aprox. *S/18 a S/25*).\n" +
		"📆 Los envíos se hacen todos los días a las *6:00 p.m.*\n\n" +
		"✨ Al enviar, te compartimos la guía y pruebas del despacho."

	textGuidedFreeQuestion = "Estoy aquí para ayudarte 🤗 Escríbeme tu duda y te responderé en un momento. ¡Nuestro equipo está activo de Lunes a Domingo! 💬"

	textAskShippingType = "📦 ¿Prefieres *envío a domicilio* o *recoger en agencia*?"

	shippingHome   = "Envío a domicilio"
	shippingAgency = "Recojo en agencia"
)

func textGuidedIntro(p *domain.Product) string {
	return fmt.Sprintf("¡Hola! 👋 ¿Interesado en nuestro *%s*? 🏕️\n\n", p.Name) +
		fmt.Sprintf("📦 *Precio:* S/%s (envío incluido)\n", money(p.Price)) +
		fmt.Sprintf("🎨 *Colores:* %s\n", strings.Join(p.ColorNames(), " | ")) +
		fmt.Sprintf("📏 *Dimensiones:* %s\n\n", dimensions(p)) +
		"👇 *Elige una opción:*\n" +
		">>> *1* - Ver detalles completos\n" +
		">>> *2* - Hacer pedido\n" +
		">>> *3* - Métodos de pago\n" +
		">>> *4* - Envíos a provincia\n" +
		">>> *5* - Otra consulta"
}

var dimensionKeys = []string{"Ancho", "Alto", "Largo"}

func dimensions(p *domain.Product) string {
	parts := make([]string, 0, len(dimensionKeys))
	for _, k := range dimensionKeys {
		v := p.Details[k]
		if v == "" {
			v = "-"
		}
		parts = append(parts, fmt.Sprintf("%s (%s)", v, strings.ToLower(k)))
	}
	return strings.Join(parts, " x ")
}

func textGuidedDetails(p *domain.Product) string {
	var lines []string
	for _, k := range sortedKeys(p.Details) {
		if isDimension(k) {
			continue
		}
		lines = append(lines, fmt.Sprintf("✔️ *%s:* %s", k, p.Details[k]))
	}
	var b strings.Builder
	fmt.Fprintf(&b, "¡Claro! 😄 Nuestro *%s* tiene:\n\n", p.Name)
	if len(lines) > 0 {
		b.WriteString(strings.Join(lines, "\n"))
		b.WriteString("\n\n")
	}
	fmt.Fprintf(&b, "📝 *Descripción:* %s", p.Description)
	if len(p.Images) > 0 {
		b.WriteString("\n\n⏳ *Estoy preparando las imágenes...* Un momento por favor.")
	}
	return b.String()
}

func textGuidedOrderStart(p *domain.Product) string {
	return "¡Súper fácil! 😎 Solo necesito que me brindes estos datos para coordinar tu envío:\n\n" +
		"📍 Ciudad y distrito\n" +
		fmt.Sprintf("🎨 Color: %s\n", strings.Join(p.ColorNames(), " o ")) +
		"📦 ¿Deseas envío a domicilio o recoger en agencia?\n\n" +
		"Una vez confirmes, coordinamos tu pedido. El proceso de pago es muy seguro 👇"
}

func textColorChosen(c domain.ProductColor) string {
	return fmt.Sprintf("¡Excelente elección! Has seleccionado el color *%s* 🎨\n\n", c.Name) +
		fmt.Sprintf("🔹 *Código hexadecimal:* %s\n\n", c.Hex) +
		"Ahora necesito saber:\n" +
		"📍 ¿En qué ciudad y distrito te encuentras?\n" +
		"📦 ¿Prefieres envío a domicilio o recoger en agencia?"
}

func textChooseColor(p *domain.Product) string {
	lines := make([]string, 0, len(p.Colors))
	for _, c := range p.Colors {
		lines = append(lines, fmt.Sprintf("🔘 *%s* (%s)", c.Name, c.Hex))
	}
	return "Por favor, elige uno de nuestros colores disponibles:\n\n" + strings.Join(lines, "\n")
}

func textOrderSummary(p *domain.Product, color, shipping string) string {
	if color == "" {
		color = "No especificado"
	}
	return "¡Perfecto! Resumen de tu pedido:\n\n" +
		fmt.Sprintf("🛒 *Producto:* %s\n", p.Name) +
		fmt.Sprintf("🎨 *Color:* %s\n", color) +
		fmt.Sprintf("🚚 *Entrega:* %s\n\n", shipping) +
		"Para finalizar tu pedido, por favor indícame:\n" +
		"📍 Tu dirección exacta con referencias (o la agencia de tu preferencia)\n" +
		"📱 Un número de contacto adicional (opcional)\n\n" +
		"Una vez confirmes estos datos, coordinaremos el pago y envío inmediato. 🚀"
}

func textCloser(p *domain.Product, units int) string {
	return "📢 *Oferta especial por tiempo limitado!* 🕒\n\n" +
		fmt.Sprintf("🏆 *Producto:* %s\n", p.Name) +
		fmt.Sprintf("💰 *Precio:* S/%s (normal: S/%s)\n", money(p.Price), money(listPrice(p.Price))) +
		"🚚 *Envío GRATIS* a todo Perú\n\n" +
		fmt.Sprintf("⚠️ *Stock limitado* - Solo %d unidades disponibles\n\n", units) +
		"¿Quieres apartar el tuyo ahora mismo? (Responde *SI* o *NO*)"
}

func guidedSystemPrompt(p *domain.Product, stage domain.Stage) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Eres un vendedor experto de %s. Usa esta información para responder:\n\n", p.Name)
	fmt.Fprintf(&b, "*Descripción:*\n%s\n\n", p.Description)
	b.WriteString("*Detalles técnicos:*\n")
	for _, k := range sortedKeys(p.Details) {
		fmt.Fprintf(&b, "- %s: %s\n", k, p.Details[k])
	}
	b.WriteString("\n*Colores disponibles:*\n")
	for _, c := range p.Colors {
		fmt.Fprintf(&b, "- %s (%s)\n", c.Name, c.Hex)
	}
	fmt.Fprintf(&b, "\n*Precio:* S/%s (envío incluido)\n\n", money(p.Price))
	fmt.Fprintf(&b, "Etapa actual del cliente: %s\n\n", stage)
	b.WriteString(`Reglas importantes:
1. Si el cliente está en medio de un pedido (etapa 'consulta_color', 'consulta_envio', 'confirmacion_pedido' o 'confirmacion_pago'), NO muestres el menú
2. Mantén el foco en la conversación actual
3. Solo muestra el menú si es claramente una nueva consulta
4. Sé conciso (máximo 3 frases)
5. Si preguntan por algo no relacionado, redirige amablemente al producto

Marcadores (el cliente no los verá):
- Si el cliente elige un color disponible, agrega [COLOR:nombre]
- Si el cliente da su dirección o agencia, agrega [DIRECCION:texto]
- Si el cliente elige envío a domicilio o recojo en agencia, agrega [ENVIO:domicilio] o [ENVIO:agencia]
- Si ya tienes color, tipo de envío y dirección, agrega [DATOS_COMPLETOS]
- Si el cliente pide fotos del producto, agrega [ENVIAR_IMAGENES]`)
	return b.String()
}

// ============================================================
// Orders and payments
// ============================================================

const textPaymentReceived = "¡Gracias! 🙌 Recibimos tu comprobante de pago. Lo estamos verificando."

func textMissingFields(fields []string) string {
	return "Para completar tu pedido aún necesito: " + joinSpanish(fields) + ". ¿Me lo indicas por favor?"
}

func textOrderConfirmed(o *domain.Order) string {
	return "✅ *¡Pedido confirmado!*\n\n" +
		fmt.Sprintf("🧾 *Número de pedido:* %s\n", o.OrderNumber) +
		fmt.Sprintf("🛒 *Producto:* %s\n", o.ProductName) +
		fmt.Sprintf("🎨 *Color:* %s\n", o.Color) +
		fmt.Sprintf("🚚 *Entrega:* %s\n", o.ShippingType) +
		fmt.Sprintf("📍 *Dirección:* %s\n\n", o.Address) +
		"Gracias por tu compra. Te avisaremos cuando tu pedido sea despachado. 🚀"
}

// ============================================================
// Personal profile
// ============================================================

const personalSystemPrompt = `Eres un asistente personal para un profesional en ingeniería.
Responde preguntas sobre su trayectoria profesional, habilidades, proyectos y experiencia en ingeniería.

Información clave sobre el profesional:
Nombre: Luis Alexander
Profesión: Ingeniero de Sistemas
Experiencia: 5 años
Habilidades principales: Programación, Bases de Datos, Redes, Seguridad y Computación en la Nube

Intereses personales: hornear panes artesanales, correr al aire libre, cuidar a sus pollitos, la vida sostenible, el desarrollo de videojuegos y el café.

Estilo de interacción:
Aunque el enfoque es profesional, también es cercano y auténtico. Si le hacen preguntas demasiado personales o fuera de lugar, responde con humor, ironía suave y un toque relajado.

Mantén las respuestas claras, confiables y con un toque humano. Si el tema se sale del ámbito profesional, responde con simpatía y redirige con elegancia.`

// ============================================================
// Operator notifications
// ============================================================

func noticeAgentRequested(name, number string, at time.Time) string {
	return "📢 *Cliente solicitó contacto con vendedor*\n" +
		fmt.Sprintf("👤 *Nombre:* %s\n", name) +
		fmt.Sprintf("📱 *Número:* %s\n", number) +
		fmt.Sprintf("⏰ *Fecha/Hora:* %s", stamp(at))
}

func noticeProductViewed(name, number string, p *domain.Product) string {
	return "📢 *Cliente interesado en producto*\n" +
		fmt.Sprintf("👤 *Cliente:* %s\n", name) +
		fmt.Sprintf("📱 *Número:* %s\n", number) +
		fmt.Sprintf("🛍️ *Producto:* %s\n", p.Name) +
		fmt.Sprintf("💰 *Precio:* S/ %s\n", money(p.Price)) +
		fmt.Sprintf("📋 *Código:* %s", p.Code)
}

func noticePurchaseInterest(name, number, productName, productID string, at time.Time) string {
	if productID == "" {
		productID = "No disponible"
	}
	return "🔔 *INTERÉS DE COMPRA* 🔔\n" +
		fmt.Sprintf("👤 *Cliente:* %s\n", name) +
		fmt.Sprintf("📱 *Número:* %s\n", number) +
		fmt.Sprintf("🛒 *Producto:* %s\n", productName) +
		fmt.Sprintf("🆔 *ID Producto:* %s\n", productID) +
		fmt.Sprintf("⏰ *Fecha/Hora:* %s\n\n", stamp(at)) +
		"✅ El cliente está interesado en comprar y espera ser contactado. Por favor, comunícate a la brevedad."
}

func noticeGuidedOrder(name, number string, p *domain.Product, color, shipping string, at time.Time) string {
	if color == "" {
		color = "No especificado"
	}
	return fmt.Sprintf("📢 *PEDIDO DE %s*\n", strings.ToUpper(p.Name)) +
		fmt.Sprintf("👤 *Cliente:* %s\n", name) +
		fmt.Sprintf("📱 *Número:* %s\n", number) +
		fmt.Sprintf("🛒 *Producto:* %s\n", p.Name) +
		fmt.Sprintf("🎨 *Color seleccionado:* %s\n", color) +
		fmt.Sprintf("🚚 *Tipo de entrega:* %s\n", shipping) +
		fmt.Sprintf("⏰ *Fecha/Hora:* %s", stamp(at))
}

func noticePaymentReceived(name, number string, o *domain.Order, at time.Time) string {
	proof := o.ProofDigest
	if proof == "" {
		proof = o.AdvancePaymentProof
	}
	return "💸 *COMPROBANTE DE PAGO RECIBIDO*\n" +
		fmt.Sprintf("👤 *Cliente:* %s\n", name) +
		fmt.Sprintf("📱 *Número:* %s\n", number) +
		fmt.Sprintf("🛒 *Producto:* %s\n", orDefault(o.ProductName, "No especificado")) +
		fmt.Sprintf("🧾 *Comprobante:* %s\n", proof) +
		fmt.Sprintf("⏰ *Fecha/Hora:* %s", stamp(at))
}

func noticeOrderConfirmed(name, number string, o *domain.Order, at time.Time) string {
	return "✅ *PEDIDO CONFIRMADO*\n" +
		fmt.Sprintf("🧾 *Número de pedido:* %s\n", o.OrderNumber) +
		fmt.Sprintf("👤 *Cliente:* %s\n", name) +
		fmt.Sprintf("📱 *Número:* %s\n", number) +
		fmt.Sprintf("🛒 *Producto:* %s\n", orDefault(o.ProductName, "No especificado")) +
		fmt.Sprintf("🎨 *Color:* %s\n", o.Color) +
		fmt.Sprintf("🚚 *Entrega:* %s\n", o.ShippingType) +
		fmt.Sprintf("📍 *Dirección:* %s\n", o.Address) +
		fmt.Sprintf("💳 *Pago:* %s\n", o.Status) +
		fmt.Sprintf("⏰ *Fecha/Hora:* %s", stamp(at))
}

// ============================================================
// Formatting helpers
// ============================================================

var keycaps = []string{"0️⃣", "1️⃣", "2️⃣", "3️⃣", "4️⃣", "5️⃣", "6️⃣", "7️⃣", "8️⃣", "9️⃣", "🔟"}

// keycap renders n as a keycap emoji when one exists.
func keycap(n int) string {
	if n >= 0 && n < len(keycaps) {
		return keycaps[n]
	}
	return strconv.Itoa(n) + "."
}

func money(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func listPrice(price float64) float64 {
	return float64(int64(price*1.2*100+0.5)) / 100
}

func stamp(t time.Time) string {
	return t.Format("02/01/2006 15:04:05")
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

// joinSpanish joins items as "a, b y c".
func joinSpanish(items []string) string {
	switch len(items) {
	case 0:
		return ""
	case 1:
		return items[0]
	}
	return strings.Join(items[:len(items)-1], ", ") + " y " + items[len(items)-1]
}

func isDimension(key string) bool {
	for _, k := range dimensionKeys {
		if strings.EqualFold(k, key) {
			return true
		}
	}
	return false
}

func sortedKeys(m map[string]string) []string {
	return slices.Sorted(maps.Keys(m))
}
