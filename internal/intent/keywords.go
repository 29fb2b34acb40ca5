package intent

// Keyword batteries, stored already folded (lowercase, no accents).

var greetingBattery = battery{
	phrases: []string{
		"hola", "ola", "holi", "buenos dias", "buen dia", "buenas tardes", "buenas noches",
		"buenas", "que tal", "saludos", "hey", "hi", "hello",
	},
}

var purchaseBattery = battery{
	phrases: []string{
		"cuanto cuesta", "cuanto vale", "cuanto esta", "precio", "precios", "cotizacion",
		"quiero comprar", "puedo pagar", "tienes", "tienen", "disponible", "disponibles",
		"venden", "vendes", "comprar", "compro", "adquirir", "buscar", "busco", "necesito",
		"productos", "ver producto", "mostrar productos",
	},
}

var catalogBattery = battery{
	phrases: []string{
		"catalogo", "productos", "listado", "lista", "tienen mas", "que mas tienen",
		"que tienen", "mostrar", "muestrame", "ver mas", "ver todo", "ver opciones",
	},
}

var acceptBattery = battery{
	phrases: []string{
		"si", "claro", "por supuesto", "ok", "okay", "dale", "adelante", "envia", "envialo",
		"manda", "mandalo", "bueno", "bien", "quiero", "me gustaria", "enviame", "mandame",
		"catalogo",
	},
}

var newSearchBattery = battery{
	phrases: []string{
		"otros productos", "buscar otro", "otra cosa", "otro producto", "buscar mas",
		"buscar de nuevo", "nueva busqueda", "otro articulo", "regresar", "volver",
		"buscar algo mas", "cambiar producto",
	},
}

var menuBattery = battery{
	phrases: []string{"menu", "opciones", "ayuda", "inicio", "empezar"},
}

var moreInfoBattery = battery{
	phrases: []string{
		"mas informacion", "detalles", "detalle", "especificaciones", "caracteristicas",
		"dime mas", "mas sobre", "explicame", "cuentame", "saber mas",
		"informacion detallada", "informacion completa",
	},
}

var onTopicBattery = battery{
	stems: []string{
		// products and services
		"producto", "servicio", "articulo", "item", "catalogo", "inventario", "stock",
		"disponib", "modelo", "medida", "tamano", "color",
		// buying
		"compr", "adquirir", "precio", "costo", "cuesta", "vale", "valor", "cotiza", "oferta",
		"promocion", "descuento", "pago", "pagar", "efectivo", "tarjeta", "transferencia",
		"yape", "plin", "pedido", "orden",
		// delivery
		"envio", "enviar", "entrega", "despacho", "recojo", "delivery", "tiempo", "plazo",
		"direccion", "ubicacion", "provincia", "agencia",
		// service
		"atender", "atencion", "consulta", "duda", "pregunt", "inform", "horario", "tienda",
		"local", "garantia", "devolucion",
		// business
		"negocio", "empresa", "venta", "comercio", "vendedor", "asesor", "cliente",
		"comprador", "proveedor", "mayor",
		// categories
		"toldo", "carpa", "ropa", "tecnologia", "electronic", "computadora", "laptop",
		"celular", "telefono",
	},
}
