package sources

func init() {
	Register("coingecko", Spec{
		EndpointTemplate: "https://api.coingecko.com/api/v3/simple/price?ids={symbol}&vs_currencies=usd",
		PricePath:        "{symbol}.usd",
	})
	Register("coinmarketcap", Spec{
		EndpointTemplate: "https://pro-api.coinmarketcap.com/v2/cryptocurrency/quotes/latest?symbol={symbol}",
		PricePath:        "data.{symbol}.0.quote.USD.price",
		AuthHeader:       "X-CMC_PRO_API_KEY",
	})
	Register("binance", Spec{
		EndpointTemplate: "https://api.binance.com/api/v3/ticker/price?symbol={symbol}",
		PricePath:        "price",
	})
	Register("kraken", Spec{
		EndpointTemplate: "https://api.kraken.com/0/public/Ticker?pair={symbol}",
		PricePath:        "result.*.c.0", // last trade close
	})
	Register("coinbase", Spec{
		EndpointTemplate: "https://api.coinbase.com/v2/prices/{symbol}/spot",
		PricePath:        "data.amount",
	})
	Register("okx", Spec{
		EndpointTemplate: "https://www.okx.com/api/v5/market/ticker?instId={symbol}",
		PricePath:        "data.0.last",
	})
	Register("bybit", Spec{
		EndpointTemplate: "https://api.bybit.com/v5/market/tickers?category=spot&symbol={symbol}",
		PricePath:        "result.list.0.lastPrice",
	})
	Register("gateio", Spec{
		EndpointTemplate: "https://api.gateio.ws/api/v4/spot/tickers?currency_pair={symbol}",
		PricePath:        "0.last",
	})
	Register("kucoin", Spec{
		EndpointTemplate: "https://api.kucoin.com/api/v1/market/orderbook/level1?symbol={symbol}",
		PricePath:        "data.price",
	})
	Register("bitfinex", Spec{
		EndpointTemplate: "https://api-pub.bitfinex.com/v2/ticker/{symbol}",
		PricePath:        "6", // LAST_PRICE in the ticker array
	})
	Register("mexc", Spec{
		EndpointTemplate: "https://api.mexc.com/api/v3/ticker/price?symbol={symbol}",
		PricePath:        "price",
	})
	Register("huobi", Spec{
		EndpointTemplate: "https://api.huobi.pro/market/detail/merged?symbol={symbol}",
		PricePath:        "tick.close",
	})
}
