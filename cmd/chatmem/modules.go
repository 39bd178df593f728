package main

// Compiled modules. Each registers itself with the core registry on init.
import (
	_ "github.com/flemzord/chatmem/internal/gateway"
	_ "github.com/flemzord/chatmem/modules/memory/sqlite"
	_ "github.com/flemzord/chatmem/modules/provider/openai_compatible"
)
